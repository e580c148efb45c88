package models

// ShareState is a read-only view of one key's stored share history.
type ShareState struct {
	// Versions is the number of entries in the history.
	Versions int `json:"versions"`
	// Cursor is the index of the entry the next read returns.
	Cursor int `json:"cursor"`
	// Latest is the most recent entry. It is never exposed outside the process.
	Latest uint32 `json:"-"`
}

// ShareRecord is the persisted form of one key's history and read cursor.
type ShareRecord struct {
	History []uint32 `cbor:"history" json:"history"`
	Cursor  int      `cbor:"cursor" json:"cursor"`
}
