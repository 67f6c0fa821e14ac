package model

// CaseDocumentLink is a SagDokument row joining a Sag to a Dokument
type CaseDocumentLink struct {
	DocumentID  any
	ReleaseDate string
}

// CaseDocumentLinkFromRaw reads the fields the resolver needs from a SagDokument row
func CaseDocumentLinkFromRaw(raw map[string]any) CaseDocumentLink {
	link := CaseDocumentLink{DocumentID: raw["dokumentid"]}
	link.ReleaseDate, _ = raw["frigivelsesdato"].(string)
	return link
}

// DocumentDebug records what the resolver saw for one Dokument
type DocumentDebug struct {
	DocumentID      any      `json:"dokumentId"`
	TypeID          any      `json:"typeid"`
	CategoryID      any      `json:"kategoriid"`
	Title           any      `json:"titel"`
	ReleaseDate     any      `json:"sagDokumentFrigivelsesdato"`
	IsMainCandidate bool     `json:"isMainCandidate"`
	PDFURLs         []string `json:"pdfUrls"`
}

// DocumentResolution is the outcome of walking Sag -> SagDokument -> Dokument -> Fil
type DocumentResolution struct {
	SagID      *int            `json:"sagId"`
	MainPDFURL *string         `json:"mainPdfUrl"`
	PDFURLs    []string        `json:"pdfUrls"`
	Documents  []DocumentDebug `json:"documents"`
}
