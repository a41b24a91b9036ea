package main

// General API documentation for swaggo. Run `swag init -g cmd/analyzerd/docs.go` to generate docs.
//
// @title           analyzerd API
// @version         1.0
// @description     Text analysis (toxicity, sentiment, emotion, hate speech) with adaptive engine lifecycle and a result cache.
//
// @contact.name   analyzerd maintainers
//
// @license.name   MIT
// @license.url    https://opensource.org/licenses/MIT
//
// @BasePath  /
//
// @schemes http
