// Package docs provides generated OpenAPI documentation.
//
// epubify API
//
//	@title			epubify API
//	@version		1.0
//	@description	Converts web documentation trees into EPUB books.
//	@termsOfService	http://swagger.io/terms/
//
//	@contact.name	API Support
//	@contact.url	https://github.com/jackzampolin/epubify
//
//	@license.name	MIT
//	@license.url	https://opensource.org/licenses/MIT
//
//	@host		localhost:8080
//	@BasePath	/
//
//	@schemes	http https
package docs

//go:generate swag init -g ../cmd/epubify/serve.go -o ./swagger --parseDependency --parseInternal
