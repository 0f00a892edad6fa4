// Package directory is the tool catalogue behind the API: the Tool model,
// its validation rules, a SQLite store and a YAML seed loader.
package directory
