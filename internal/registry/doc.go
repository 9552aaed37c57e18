// Package registry consumes the provider version-list API of a Terraform-compatible registry.
//
// Only one endpoint is used:
//
//	GET {registry_url}/v1/providers/{namespace}/{name}/versions
//
// which returns {"versions": [{"version": "4.1.2", ...}, ...]}. Every field other than
// versions[].version is ignored.
package registry
