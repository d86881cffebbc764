package tunclient

// Config is the local subcommand's configuration, filled in by the CLI
// layer from flags and environment overrides (spec §6).
type Config struct {
	// ServerAddr is "host:port" for the tunnel's control port, e.g.
	// "example.com:7835".
	ServerAddr string

	// RemotePort is the port requested on the server; 0 means "any free
	// port in the server's configured range" (spec §4.5).
	RemotePort uint16

	// LocalHost, LocalPort name the local service being exposed.
	LocalHost string
	LocalPort uint16

	// Secret, if non-empty, must match the server's configured secret.
	Secret string
}
