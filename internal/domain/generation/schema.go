package generation

import "encoding/json"

// SchemaName names OptionsSchema when sent as a structured output format.
const SchemaName = "casve_options"

// OptionsSchema constrains upstream output to the options envelope.
//
//	{"options": [{"title", "description", "profile": {"coreRole",
//	  "requiredSkills", "environment", "growth"}, "matchReason"}]}
var OptionsSchema = json.RawMessage(`{
  "type": "object",
  "additionalProperties": false,
  "required": ["options"],
  "properties": {
    "options": {
      "type": "array",
      "items": {
        "type": "object",
        "additionalProperties": false,
        "required": ["title", "description", "profile", "matchReason"],
        "properties": {
          "title": {"type": "string"},
          "description": {"type": "string"},
          "profile": {
            "type": "object",
            "additionalProperties": false,
            "required": ["coreRole", "requiredSkills", "environment", "growth"],
            "properties": {
              "coreRole": {"type": "string"},
              "requiredSkills": {"type": "string"},
              "environment": {"type": "string"},
              "growth": {"type": "string"}
            }
          },
          "matchReason": {"type": "string"}
        }
      }
    }
  }
}`)
