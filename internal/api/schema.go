package api

import "github.com/xeipuuv/gojsonschema"

// 目标缺失不在 schema 中校验，由任务服务返回 MISSING_OBJECTIVE。
const createTaskSchema = `{
  "type": "object",
  "properties": {
    "user_objective": {"type": ["string", "null"]},
    "user_configuration": {"type": ["object", "null"]}
  },
  "additionalProperties": false
}`

const executeStepSchema = `{
  "type": "object",
  "properties": {
    "input": {},
    "confirmation": {"type": ["string", "null"]}
  },
  "additionalProperties": false
}`

func mustSchema(source string) *gojsonschema.Schema {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(source))
	if err != nil {
		panic(err)
	}
	return schema
}
