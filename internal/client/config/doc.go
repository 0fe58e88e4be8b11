// Package config loads runtime configuration for the projflow client.
//
// Sources & precedence
//
//  1. Built-in defaults (see (*Config).LoadDefaults).
//  2. A .env file in the working directory and the process environment,
//     variables prefixed with PROJFLOW_. Process variables win over .env.
//  3. Optional JSON file selected via -c or -config.
//  4. Command-line flags, which override everything else.
//
// Supported flags
//
//	-a string   base URL of the backend API
//	-i int      online check interval (seconds)
//	-d string   path to the local session database
//
// # JSON schema
//
// Durations use timex.Duration, so they may be strings like "3s" or integer
// nanoseconds:
//
//	{
//	  "api_base_url": "https://api.example.com",
//	  "identity_api_key": "AIza...",
//	  "request_timeout": "15s",
//	  "online_check_interval": "30s"
//	}
package config
