package domain

type User struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Email      string `json:"email,omitempty"`
	Avatar     string `json:"avatar,omitempty"`
	MemberCode string `json:"memberCode,omitempty"`
}

type Group struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Favourite   bool     `json:"favourite"`
	Members     []string `json:"members"`
	Admins      []string `json:"admins"`
}
