package invoices

// InvoiceDB is the persistence backend of the registry.
type InvoiceDB interface {
	// PutInvoice inserts or overwrites the invoice.
	PutInvoice(invoice *Invoice) error

	// FetchInvoices returns all persisted invoices.
	FetchInvoices() ([]*Invoice, error)
}
