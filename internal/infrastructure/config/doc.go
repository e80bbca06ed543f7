// Package config loads the habitat gateway's settings.
//
// Load reads a YAML file, applies defaults for anything left out, lets
// PETNEST_* environment variables override the result and then validates
// it. Secrets (device secret, broker password, JWT secret) are best
// supplied through the environment so the file can be committed:
//
//	PETNEST_DEVICE_SECRET=... PETNEST_API_JWT_SECRET=... petnestd
//
// Keep a file that does hold secrets at mode 0600.
package config
