package mapper

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// PayloadVars are the per-session values substituted into an engine's
// initialize payload template.
type PayloadVars struct {
	RootPath  string
	RootURI   string
	Name      string
	ProcessID int
}

// Placeholder tokens recognized inside initialize payload templates.
const (
	placeholderRootPath = "$rootPath"
	placeholderRootURI  = "$rootUri"
	placeholderURI      = "$uri"
	placeholderName     = "$name"
)

// ExpandInitializePayload substitutes the session's workspace values into a
// payload template. Placeholders may appear anywhere in the document,
// including nested workspace folder entries. A top-level processId field,
// when present in the template, is overwritten with the supervising
// process id so the engine can watch for client death.
func ExpandInitializePayload(template json.RawMessage, vars PayloadVars) (json.RawMessage, error) {
	if !gjson.ValidBytes(template) {
		return nil, fmt.Errorf("initialize payload template is not valid JSON")
	}

	doc := template
	for token, value := range map[string]string{
		placeholderRootPath: vars.RootPath,
		placeholderRootURI:  vars.RootURI,
		placeholderURI:      vars.RootURI,
		placeholderName:     vars.Name,
	} {
		doc = bytes.ReplaceAll(doc, []byte(token), jsonEscape(value))
	}
	if !gjson.ValidBytes(doc) {
		return nil, fmt.Errorf("initialize payload is not valid JSON after substitution")
	}

	if gjson.GetBytes(doc, "processId").Exists() {
		expanded, err := sjson.SetBytes(doc, "processId", vars.ProcessID)
		if err != nil {
			return nil, fmt.Errorf("setting processId: %w", err)
		}
		doc = expanded
	}
	return doc, nil
}

// jsonEscape encodes value as a JSON string and strips the surrounding
// quotes, so the result can be spliced into string positions in a template.
func jsonEscape(value string) []byte {
	encoded, _ := json.Marshal(value)
	return encoded[1 : len(encoded)-1]
}
