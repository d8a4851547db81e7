package config

import (
	"fmt"
	"os"
)

// validate checks the invariants LocationRule/ServerRule must satisfy
// once fully parsed: a CGI extension needs an executable interpreter,
// a redirect needs a valid status, an upload directory needs POST
// permitted, and every location prefix must begin with "/".
func validate(m *Model) error {
	for si := range m.Servers {
		srv := &m.Servers[si]
		for li := range srv.Locations {
			loc := &srv.Locations[li]
			if loc.Prefix == "" || loc.Prefix[0] != '/' {
				return fmt.Errorf("location prefix %q must begin with \"/\"", loc.Prefix)
			}
			if loc.HasCGI() {
				if loc.CGIPath == "" {
					return fmt.Errorf("location %q: cgi_extension set without cgi_path", loc.Prefix)
				}
				if err := checkExecutable(loc.CGIPath); err != nil {
					return fmt.Errorf("location %q: cgi_path %q: %w", loc.Prefix, loc.CGIPath, err)
				}
			}
			if loc.HasRedirect() && !validRedirectCode(loc.RedirectCode) {
				return fmt.Errorf("location %q: return code %d is not a valid redirect status", loc.Prefix, loc.RedirectCode)
			}
			if loc.UploadDir != "" && !loc.AllowsMethod("POST") {
				return fmt.Errorf("location %q: upload_dir set but POST not in allow_methods", loc.Prefix)
			}
		}
	}
	return nil
}

func validRedirectCode(code int) bool {
	switch code {
	case 301, 302, 303, 307, 308:
		return true
	}
	return false
}

func checkExecutable(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if info.IsDir() {
		return fmt.Errorf("is a directory")
	}
	if info.Mode()&0o111 == 0 {
		return fmt.Errorf("not executable")
	}
	return nil
}
