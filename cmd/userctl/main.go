// userctl manages users in a dirrecord directory.
//
// # Installation
//
//	go install github.com/acksell/dirrecord/cmd/userctl@latest
//
// # Commands
//
//	userctl create   Register a user
//	userctl get      Show a user
//	userctl update   Mass-assign attributes through the fillable guard
//	userctl set      Set one attribute directly
//	userctl unset    Clear one attribute
//	userctl tables   Create the DynamoDB tables
//
// The directory is configured by dirrecord.yaml, found by walking up from the
// working directory. Flags override the file:
//
//	userctl --memory create ann --password s3cret nickname=annie
//	userctl --backend sqlite --db users.db get ann --json
package main

func main() {
	execute()
}
