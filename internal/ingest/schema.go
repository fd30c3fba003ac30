package ingest

import (
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// quoteSchema accepts numeric fields as JSON numbers or numeric strings; the
// exchange stream sends strings.
const quoteSchema = `{
  "type": "object",
  "required": ["symbol", "price", "high", "low", "volume"],
  "properties": {
    "symbol": {"type": "string", "minLength": 1},
    "price":  {"$ref": "#/$defs/amount"},
    "high":   {"$ref": "#/$defs/amount"},
    "low":    {"$ref": "#/$defs/amount"},
    "volume": {"$ref": "#/$defs/amount"}
  },
  "$defs": {
    "amount": {
      "oneOf": [
        {"type": "number", "minimum": 0},
        {"type": "string", "pattern": "^\\s*\\+?([0-9]+\\.?[0-9]*|\\.[0-9]+)([eE][-+]?[0-9]+)?\\s*$"}
      ]
    }
  }
}`

var (
	schemaOnce     sync.Once
	schemaCompiled *jsonschema.Schema
	schemaErr      error
)

func compiledQuoteSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		compiler.Draft = jsonschema.Draft2020
		if err := compiler.AddResource("quote.json", strings.NewReader(quoteSchema)); err != nil {
			schemaErr = err
			return
		}
		schemaCompiled, schemaErr = compiler.Compile("quote.json")
	})
	return schemaCompiled, schemaErr
}
