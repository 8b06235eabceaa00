// If you are AI: This file defines the fully-qualified stream name the
// registry indexes by: (vhost, application, name).
package registry

import "fmt"

// Key is the fully-qualified name of a Stream.
type Key struct {
	VHost string
	App   string
	Name  string
}

// NewKey builds a Key, defaulting VHost to "default" when empty so
// single-vhost deployments (the common case) don't need to name one.
func NewKey(vhost, app, name string) Key {
	if vhost == "" {
		vhost = "default"
	}
	return Key{VHost: vhost, App: app, Name: name}
}

func (k Key) String() string {
	if k.VHost == "default" || k.VHost == "" {
		return fmt.Sprintf("%s/%s", k.App, k.Name)
	}
	return fmt.Sprintf("%s#%s/%s", k.VHost, k.App, k.Name)
}
