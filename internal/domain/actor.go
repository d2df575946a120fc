package domain

// Actor is a user that authors changes.
type Actor struct {
	ID    int64  `json:"id"`
	Login string `json:"login"`
	Name  string `json:"name"`
	Mail  string `json:"mail"`
	Admin bool   `json:"admin"`
}
