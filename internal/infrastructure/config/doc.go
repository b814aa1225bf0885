// Package config handles loading and validating the bridge configuration.
//
// This package manages:
//   - Loading configuration from the YAML file named by CONFIG_FILE_PATH
//   - Overriding with environment variables
//   - Validation of required fields
//   - Default value handling
//
// The broker keys (mqtt_server_addr, mqtt_server_port, mqtt_client_id,
// mqtt_username, mqtt_password) and the devices list live at the top level
// of the file, so existing deployments keep working unchanged.
//
// Security Considerations:
//   - Broker and InfluxDB credentials should be set via environment variables
//   - The config file should have restricted permissions (0600)
//
// Usage:
//
//	cfg, err := config.Load(config.PathFromEnv())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	for _, d := range cfg.ResolvedDevices() {
//	    fmt.Println(d.Addr, d.Breaker)
//	}
package config
