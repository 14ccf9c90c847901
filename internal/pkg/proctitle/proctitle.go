// Package proctitle names the running process so ps/top show the role.
package proctitle

// For returns "slidecraft" or "slidecraft: <role>".
func For(role string) string {
	if role == "" {
		return "slidecraft"
	}
	return "slidecraft: " + role
}
