package lifecycle

import "signflow/document"

// UploadTarget is a presigned upload destination for a document's blob.
type UploadTarget struct {
	URL string
	Key string
}

// BulkResult summarises a bulk publish.
type BulkResult struct {
	Cloned    int
	Failed    int
	Documents []document.Document
}
