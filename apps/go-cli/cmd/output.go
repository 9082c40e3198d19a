package cmd

import (
	"fmt"
	"io"

	"github.com/slush-dev/pushconsent/apps/go-cli/internal/app"
	"gopkg.in/yaml.v3"
)

// yamlOut prints data as a YAML document to w.
func yamlOut(w io.Writer, data any) {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	enc.Encode(data)
	enc.Close()
}

// printStatus prints the session status as aligned text.
func printStatus(w io.Writer, st app.Status) {
	s := st.Session
	token := "(none)"
	if s.HasDeviceToken {
		token = s.DeviceToken
	}
	fmt.Fprintf(w, "Session dir:       %s (%s)\n", st.SessionDir, st.Store)
	fmt.Fprintf(w, "Installation ID:   %s\n", s.InstallationID)
	fmt.Fprintf(w, "Consent:           %s\n", s.Consent)
	fmt.Fprintf(w, "Device token:      %s\n", token)
	fmt.Fprintf(w, "Registered:        %s\n", yesNo(s.RegistrationSucceeded))
	fmt.Fprintf(w, "Opt request ok:    %s\n", yesNo(s.OptRequestSucceeded))
	fmt.Fprintf(w, "Prior artifact:    %s\n", s.PriorRegistrationArtifact)
	fmt.Fprintf(w, "Pending register:  %s\n", yesNo(st.PendingRegistration))
	if !s.UpdatedAt.IsZero() {
		fmt.Fprintf(w, "Updated:           %s\n", s.UpdatedAt.Local().Format("2006-01-02 15:04:05"))
	}
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
