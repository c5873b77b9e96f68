package constants

// DocumentKind distinguishes the two fiscal document families the engine
// understands.
type DocumentKind string

// Stable values (store these exact strings in the ledger).
const (
	KindInvoice DocumentKind = "NFSE"  // municipal service invoice
	KindPayroll DocumentKind = "SEFIP" // payroll / FGTS report
)

// Layout is the closed set of recognized document layouts.
type Layout string

const (
	LayoutStandardInvoice Layout = "STANDARD_INVOICE"  // header/value lines separated
	LayoutInlineInvoice   Layout = "INLINE_INVOICE"    // legacy inline "VALOR TOTAL DO SERVIÇO R$"
	LayoutSecurityInvoice Layout = "SECURITY_INVOICE"  // surveillance notes, "Data Fato Gerador"
	LayoutClassicPayroll  Layout = "CLASSIC_PAYROLL"   // SEFIP "RESUMO DO FECHAMENTO"
	LayoutFGTSGuide       Layout = "FGTS_GUIDE"        // "Detalhe da Guia" / "Relatório da Guia"
	LayoutFGTSDigital     Layout = "FGTS_DIGITAL"      // GFD, the newer digital guide
	LayoutOCRRequired     Layout = "OCR_REQUIRED"      // no usable text layer
	LayoutFilteredOut     Layout = "FILTERED_OUT"      // known non-target document
	LayoutUnrecognized    Layout = "UNRECOGNIZED"
)

// EntryState is the lifecycle tag on a ledger entry.
type EntryState string

const (
	EntryActive         EntryState = "ACTIVE"
	EntrySuperseded     EntryState = "SUPERSEDED"
	EntryManualResolved EntryState = "MANUAL_RESOLVED"
)

// QueueState tracks a document through the OCR fallback queue.
type QueueState string

const (
	QueuePending   QueueState = "PENDING"
	QueueDone      QueueState = "DONE"
	QueueExhausted QueueState = "EXHAUSTED"
)

// Source records how a ledger entry's fields were obtained.
type Source string

const (
	SourceText Source = "TEXT"
	SourceOCR  Source = "OCR"
)
