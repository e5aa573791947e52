// Package config loads the client configuration and resolves its per-user
// directories.
//
// # Loading
//
// Load merges every configuration source it finds, later sources winning:
//
//  1. built-in defaults (server http://localhost:4096, log level info)
//  2. ~/.custodian.json
//  3. $XDG_CONFIG_HOME/custodian/config.json, config.jsonc, config.yaml
//  4. .custodian.json, .custodian.jsonc or .custodian.yaml in the project
//  5. the file named by CUSTODIAN_CONFIG
//  6. CUSTODIAN_SERVER_URL, CUSTODIAN_API_KEY, CUSTODIAN_DIRECTORY and
//     CUSTODIAN_LOG_LEVEL
//
// JSON files may carry comments (tidwall/jsonc). YAML files are converted to
// JSON before decoding so both formats share one schema:
//
//	{
//	  "server": {"url": "http://localhost:4096", "apiKey": "{env:OPENCODE_KEY}"},
//	  "logLevel": "debug",
//	  "diffContext": {"enabled": true, "exclude": ["**/*.lock", "vendor/**"]}
//	}
//
// The older {"opencode": {"serverUrl": "..."}} layout is still accepted.
//
// # Interpolation
//
// String values may reference {env:VAR} and {file:path}. File paths are
// resolved against the directory of the config file, and ~/ expands to
// HOME. A file that cannot be read leaves the placeholder untouched.
//
// # Paths
//
// GetPaths follows the XDG base directory variables. Preferences are
// stored under the state directory.
package config
