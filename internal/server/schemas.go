package server

import (
	"errors"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

const loginSchema = `{
	"type": "object",
	"required": ["username", "password"],
	"properties": {
		"username": {"type": "string"},
		"password": {"type": "string"}
	}
}`

const registerSchema = `{
	"type": "object",
	"required": ["username", "password"],
	"properties": {
		"username": {"type": "string", "pattern": "^[A-Za-z0-9_.-]{3,32}$"},
		"password": {"type": "string", "minLength": 8},
		"role": {"type": "string", "enum": ["admin", "user"]}
	}
}`

const activitySchema = `{
	"type": "object",
	"properties": {
		"description": {"type": "string"},
		"type": {"type": "string"},
		"metadata": {"type": "object"}
	}
}`

const dataSchema = `{
	"type": "object"
}`

const agentTaskSchema = `{
	"type": "object",
	"required": ["prompt"],
	"properties": {
		"agentId": {"type": "string"},
		"prompt": {"type": "string", "minLength": 1},
		"session": {"type": "string"},
		"metadata": {"type": "object"}
	}
}`

// errInvalidBody wraps every schema violation
var errInvalidBody = errors.New("invalid request body")

// bodySchema is a compiled request body schema
type bodySchema struct {
	name   string
	schema *gojsonschema.Schema
}

func compileSchema(name, source string) (*bodySchema, error) {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(source))
	if err != nil {
		return nil, fmt.Errorf("failed to compile %s schema: %w", name, err)
	}
	return &bodySchema{name: name, schema: schema}, nil
}

func (b *bodySchema) validate(body []byte) error {
	result, err := b.schema.Validate(gojsonschema.NewBytesLoader(body))
	if err != nil {
		return fmt.Errorf("%w: %v", errInvalidBody, err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return fmt.Errorf("%w: %s", errInvalidBody, strings.Join(msgs, "; "))
	}
	return nil
}

// schemas holds every compiled request schema
type schemas struct {
	login     *bodySchema
	register  *bodySchema
	activity  *bodySchema
	data      *bodySchema
	agentTask *bodySchema
}

func compileSchemas() (*schemas, error) {
	var (
		out schemas
		err error
	)
	for _, def := range []struct {
		name   string
		source string
		dst    **bodySchema
	}{
		{"login", loginSchema, &out.login},
		{"register", registerSchema, &out.register},
		{"activity", activitySchema, &out.activity},
		{"data", dataSchema, &out.data},
		{"agent task", agentTaskSchema, &out.agentTask},
	} {
		if *def.dst, err = compileSchema(def.name, def.source); err != nil {
			return nil, err
		}
	}
	return &out, nil
}
