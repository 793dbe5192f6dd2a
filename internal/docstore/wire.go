package docstore

// Wire types for the relay websocket protocol. Clients send Requests; the
// server answers each with a Message of type "result" carrying the same id and
// pushes a Message of type "change" for every document change.

const (
	OpGet    = "get"
	OpSet    = "set"
	OpMerge  = "merge"
	OpDelete = "delete"
	OpList   = "list"

	// OpMergeExisting merges only into a present document; a missing one
	// answers with not_found set.
	OpMergeExisting = "merge_existing"

	MsgResult = "result"
	MsgChange = "change"
)

type Request struct {
	ID         string `json:"id"`
	Op         string `json:"op"`
	Collection string `json:"collection"`
	DocID      string `json:"doc_id,omitempty"`
	Doc        Doc    `json:"doc,omitempty"`
}

type Message struct {
	Type     string  `json:"type"`
	ID       string  `json:"id,omitempty"`
	Error    string  `json:"error,omitempty"`
	NotFound bool    `json:"not_found,omitempty"`
	Doc      Doc     `json:"doc,omitempty"`
	Entries  []Entry `json:"entries,omitempty"`
	Ref      *Ref    `json:"ref,omitempty"`
}
