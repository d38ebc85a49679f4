package chanstore

// Persister stores channel records. The store writes every new channel
// version through it before the version becomes visible in memory.
type Persister interface {
	// PutChannel inserts or replaces the record of a channel.
	PutChannel(c *Channel) error

	// FetchChannels returns every stored channel.
	FetchChannels() ([]*Channel, error)

	// PutChannelCommit stores the channel together with a marker for ref
	// in a single transaction.
	PutChannelCommit(c *Channel, ref []byte) error

	// FetchCommitRefs returns every stored commit marker.
	FetchCommitRefs() ([][]byte, error)

	// DeleteCommitRef removes a commit marker.
	DeleteCommitRef(ref []byte) error
}
