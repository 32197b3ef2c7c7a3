package httptransport

import (
	"github.com/santhosh-tekuri/jsonschema/v5"
)

const tilesetSchemaText = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["root"],
  "properties": {
    "table": {"type": "string"},
    "crs": {"type": "string"},
    "point_count": {"type": "integer", "minimum": 0},
    "origin_offset": {
      "type": "array",
      "items": {"type": "number"},
      "minItems": 3,
      "maxItems": 3
    },
    "root": {"$ref": "#/definitions/node"}
  },
  "definitions": {
    "node": {
      "type": "object",
      "required": ["id", "region", "geometric_error"],
      "properties": {
        "id": {"type": "string", "minLength": 1},
        "region": {
          "type": "array",
          "items": {"type": "number"},
          "minItems": 6,
          "maxItems": 6
        },
        "geometric_error": {"type": "number", "minimum": 0},
        "content": {"type": "string"},
        "children": {
          "type": "array",
          "items": {"$ref": "#/definitions/node"}
        }
      }
    }
  }
}`

var tilesetSchema = jsonschema.MustCompileString("tileset.schema.json", tilesetSchemaText)
