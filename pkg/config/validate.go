package config

import "fmt"

// Validate checks the config for structural correctness.
func Validate(c *Config) []error {
	var errs []error

	if c.Version != 1 {
		errs = append(errs, fmt.Errorf("version must be 1, got %d", c.Version))
	}

	if len(c.Resources) == 0 && (c.Compose == nil || c.Compose.File == "") {
		errs = append(errs, fmt.Errorf("config must declare at least one resource or a compose file"))
	}

	for name, res := range c.Resources {
		switch res.Kind {
		case "container":
			if res.Container == "" {
				errs = append(errs, fmt.Errorf("resource %q (container): container is required", name))
			}
		case "systemd":
			if res.Unit == "" {
				errs = append(errs, fmt.Errorf("resource %q (systemd): unit is required", name))
			}
		case "exec":
			if res.Command == "" {
				errs = append(errs, fmt.Errorf("resource %q (exec): command is required", name))
			}
			if res.Restart != "" && res.Restart != "always" && res.Restart != "on-failure" && res.Restart != "never" {
				errs = append(errs, fmt.Errorf("resource %q (exec): restart must be always, on-failure, or never; got %q", name, res.Restart))
			}
		case "file":
			if res.File == "" {
				errs = append(errs, fmt.Errorf("resource %q (file): file is required", name))
			}
		case "":
			errs = append(errs, fmt.Errorf("resource %q: kind is required", name))
		default:
			errs = append(errs, fmt.Errorf("resource %q: unknown kind %q", name, res.Kind))
		}
	}

	return errs
}
