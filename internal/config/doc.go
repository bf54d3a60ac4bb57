// Package config provides configuration file parsing for seqlined.
//
// The configuration is stored in seqline.yaml, either in the working
// directory or at the path given with --config. Every key is optional;
// missing keys keep their defaults. Command line flags override the file,
// and the positional port argument overrides both.
//
// # Configuration File Structure
//
//	listen: ":4567"
//	buffer_size: 120
//	max_events: 128
//	transform: reverse      # reverse | identity
//	reset_token: true       # treat a second numeric token as a counter reset
//	retry_policy: drop      # drop | requeue
//	max_requeue: 0
//	admin:
//	  addr: "127.0.0.1:9090"
//	  websocket: true
//	log:
//	  level: info           # debug | info | warn | error
//	  format: text          # text | json
//
// # Usage
//
//	cfg, err := config.LoadFromWorkingDir()
//	if err != nil {
//	    return err
//	}
//	serverConfig := server.DefaultServerConfig()
//	if err := cfg.ApplyTo(serverConfig); err != nil {
//	    return err
//	}
package config
