package docs

import _ "embed"

//go:embed mail-api.openapi.yaml
var embeddedMailOpenAPI []byte

//go:embed swagger.html
var embeddedSwaggerHTML []byte

// MailAPIOpenAPI is the OpenAPI document served at /docs/mail-api/openapi.yaml.
var MailAPIOpenAPI = embeddedMailOpenAPI

// SwaggerHTML is the Swagger UI page served at /docs.
var SwaggerHTML = embeddedSwaggerHTML
