package template

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Template documents are validated against these embedded JSON Schemas
// before being compiled, so a document missing its endpoint or its
// request/response paths is rejected with one structured validation error
// instead of a trail of hand-rolled field-presence checks.
const chatTemplateSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["provider_name", "chat_api"],
  "properties": {
    "provider_name": {"type": "string", "minLength": 1},
    "chat_api": {
      "type": "object",
      "required": ["endpoint", "request_paths", "response_paths"],
      "properties": {
        "endpoint": {"type": "string", "minLength": 1},
        "request_paths": {
          "type": "object",
          "required": ["model", "messages"],
          "properties": {
            "model": {"type": "string", "minLength": 1},
            "messages": {"type": "string", "minLength": 1}
          }
        },
        "response_paths": {
          "type": "object",
          "required": ["choices", "content"],
          "properties": {
            "choices": {"type": "string", "minLength": 1},
            "content": {"type": "string", "minLength": 1}
          }
        }
      }
    }
  }
}`

const embeddingTemplateSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["provider_name", "embedding_api"],
  "properties": {
    "provider_name": {"type": "string", "minLength": 1},
    "embedding_api": {
      "type": "object",
      "required": ["endpoint", "request_paths", "response_paths"],
      "properties": {
        "endpoint": {"type": "string", "minLength": 1},
        "request_paths": {
          "type": "object",
          "required": ["model", "input"],
          "properties": {
            "model": {"type": "string", "minLength": 1},
            "input": {"type": "string", "minLength": 1}
          }
        },
        "response_paths": {
          "type": "object",
          "required": ["data_list", "embedding"],
          "properties": {
            "data_list": {"type": "string", "minLength": 1},
            "embedding": {"type": "string", "minLength": 1}
          }
        }
      }
    }
  }
}`

var (
	schemaOnce       sync.Once
	schemaCompileErr error
	chatSchema       *jsonschema.Schema
	embeddingSchema  *jsonschema.Schema
)

func compileSchemas() {
	compiler := jsonschema.NewCompiler()

	compile := func(id, raw string) (*jsonschema.Schema, error) {
		var doc any
		if err := json.Unmarshal([]byte(raw), &doc); err != nil {
			return nil, fmt.Errorf("decode embedded schema %s: %w", id, err)
		}
		if err := compiler.AddResource(id, doc); err != nil {
			return nil, fmt.Errorf("add embedded schema %s: %w", id, err)
		}
		sch, err := compiler.Compile(id)
		if err != nil {
			return nil, fmt.Errorf("compile embedded schema %s: %w", id, err)
		}
		return sch, nil
	}

	var err error
	if chatSchema, err = compile("chat_template.json", chatTemplateSchemaJSON); err != nil {
		schemaCompileErr = err
		return
	}
	if embeddingSchema, err = compile("embedding_template.json", embeddingTemplateSchemaJSON); err != nil {
		schemaCompileErr = err
		return
	}
}

func validateChatTemplate(data []byte) error {
	schemaOnce.Do(compileSchemas)
	if schemaCompileErr != nil {
		return schemaCompileErr
	}
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}
	return chatSchema.Validate(doc)
}

func validateEmbeddingTemplate(data []byte) error {
	schemaOnce.Do(compileSchemas)
	if schemaCompileErr != nil {
		return schemaCompileErr
	}
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}
	return embeddingSchema.Validate(doc)
}
