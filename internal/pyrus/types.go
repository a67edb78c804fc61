package pyrus

import (
	json "github.com/goccy/go-json"
)

// Task is a single submitted record within a form register. Tasks are
// read-only snapshots; nothing in this service mutates them.
type Task struct {
	ID         int     `json:"id"`
	Subject    string  `json:"subject"`
	Status     string  `json:"status"`
	CreateDate string  `json:"create_date"`
	DueDate    string  `json:"due_date,omitempty"`
	Fields     []Field `json:"fields,omitempty"`
}

// Field is a node in the schema-less field tree. Value can be a scalar, or
// an object that itself carries a nested "fields" array or an "items" array
// of sub-records. Field IDs are only unique within a lookup scope, so
// resolution is depth-first, first match wins.
type Field struct {
	ID     int             `json:"id"`
	Type   string          `json:"type"`
	Value  json.RawMessage `json:"value,omitempty"`
	Fields []Field         `json:"fields,omitempty"`
}

// nestedValue is the object shape a Field.Value may take when it contains
// further structure (sections and tables).
type nestedValue struct {
	Fields []Field `json:"fields"`
	Items  []struct {
		Fields []Field `json:"fields"`
	} `json:"items"`
}

type registerResponse struct {
	Tasks []Task `json:"tasks"`
}

type authRequest struct {
	Login       string `json:"login"`
	SecurityKey string `json:"security_key"`
}

type authResponse struct {
	AccessToken string `json:"access_token"`
}

type apiError struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}
