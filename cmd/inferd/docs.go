package main

// General API documentation for swaggo. Run `swag init -g cmd/inferd/docs.go -o docs`
// to regenerate.
//
// @title           inferd API
// @version         1.0
// @description     HTTP API for local LLM text generation with energy accounting.
//
// @license.name   MIT
// @license.url    https://opensource.org/licenses/MIT
//
// @BasePath  /
//
// @schemes http
