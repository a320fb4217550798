// Package secret resolves secret references in configuration values, such as
// the alert webhook URL.
//
// A value is first expanded strictly against the environment (see
// ExpandEnvStrict). A value of the form
//
//	secretref:<provider>:<ref>
//
// is then replaced by the provider's answer, and references embedded in a
// longer value ("Bearer secretref:env:TOKEN") are replaced in place. The env
// provider reads an environment variable; the file provider reads a mounted
// secret file.
package secret
