package jsbind

import (
	"fmt"

	"github.com/dop251/goja"
	"github.com/dop251/goja_nodejs/require"
	nodeurl "github.com/dop251/goja_nodejs/url"
)

// installURLAPI provides WHATWG URL and URLSearchParams from goja_nodejs.
// require() is only needed to load the module and is removed afterwards so
// scripts cannot reach other node modules.
func installURLAPI(s *Sandbox) error {
	new(require.Registry).Enable(s.vm)
	nodeurl.Enable(s.vm)
	if err := s.vm.GlobalObject().Delete("require"); err != nil {
		return fmt.Errorf("remove require: %w", err)
	}

	orig, ok := s.vm.Get("URL").(*goja.Object)
	if !ok {
		return fmt.Errorf("URL was not installed")
	}
	ctor, ok := goja.AssertConstructor(orig)
	if !ok {
		return fmt.Errorf("URL is not a constructor")
	}

	// Every parsed URL is collected.
	proxy := s.vm.NewProxy(orig, &goja.ProxyTrapConfig{
		Construct: func(target *goja.Object, args []goja.Value, newTarget *goja.Object) *goja.Object {
			obj, err := ctor(nil, args...)
			if err != nil {
				s.rethrow(err)
			}
			if href := obj.Get("href"); href != nil {
				s.collectURL(href.String(), "URL")
			}
			return obj
		},
	})
	return s.setGlobal("URL", proxy)
}
