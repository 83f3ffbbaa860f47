// Package commands maps the host's named operations onto engine commands.
package commands

import "sort"

type Kind string

const (
	KindString Kind = "string"
	KindInt    Kind = "int"
	KindObject Kind = "object"
)

type Param struct {
	Name     string `json:"name"`
	Kind     Kind   `json:"kind"`
	Required bool   `json:"required"`
	Default  any    `json:"default,omitempty"`
}

// Operation is one entry of the host surface. Operations with a Local
// handler never reach the engine.
type Operation struct {
	Name       string  `json:"name"`
	Command    string  `json:"command,omitempty"`
	Params     []Param `json:"params"`
	Background bool    `json:"background"`

	Local func() (string, error) `json:"-"`
}

const DefaultHistoryLimit = 50

var operations = []Operation{
	{Name: "upload_document", Command: "process_document", Background: true, Params: []Param{
		{Name: "file_path", Kind: KindString, Required: true},
	}},
	{Name: "get_documents", Command: "get_all_documents"},
	{Name: "delete_document", Command: "delete_document", Params: []Param{
		{Name: "doc_id", Kind: KindString, Required: true},
	}},
	{Name: "get_document_stats", Command: "get_document_stats"},
	{Name: "ask_question", Command: "answer_question", Params: []Param{
		{Name: "question", Kind: KindString, Required: true},
	}},
	{Name: "get_chat_history", Command: "get_chat_history", Params: []Param{
		{Name: "limit", Kind: KindInt, Default: DefaultHistoryLimit},
	}},
	{Name: "clear_chat_history", Command: "clear_chat_history"},
	{Name: "get_ai_settings", Command: "get_ai_settings"},
	{Name: "save_ai_settings", Command: "save_ai_settings", Params: []Param{
		{Name: "settings", Kind: KindObject, Required: true},
	}},
	{Name: "check_ollama_installed", Command: "check_ollama_installed"},
	{Name: "get_ollama_models", Command: "get_ollama_models"},
	{Name: "install_ollama_model", Command: "install_ollama_model", Background: true, Params: []Param{
		{Name: "model_name", Kind: KindString, Required: true},
	}},
	{Name: "get_vector_stats", Command: "get_vector_stats"},
	{Name: "reset_vector_store", Command: "reset_vector_store"},
	{Name: "get_license_info", Local: licenseInfoJSON},
	{Name: "remove_license", Local: removeLicenseJSON},
}

var byName = func() map[string]Operation {
	m := make(map[string]Operation, len(operations))
	for _, op := range operations {
		m[op.Name] = op
	}
	return m
}()

func Lookup(name string) (Operation, bool) {
	op, ok := byName[name]
	return op, ok
}

// Operations returns the table sorted by name.
func Operations() []Operation {
	out := make([]Operation, len(operations))
	copy(out, operations)
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func IsBackground(name string) bool {
	op, ok := byName[name]
	return ok && op.Background
}
