// SPDX-License-Identifier: MIT
//
// Package build holds the metadata injected into the binary at link time:
//
//	go build -ldflags "-X locator/pkg/build.buildVersion=0.3.0 \
//	    -X locator/pkg/build.buildCommit=$(git rev-parse --short HEAD) \
//	    -X locator/pkg/build.buildTime=$(date -u +%FT%TZ)"
//
// Development builds carry placeholder values.
package build

import (
	"errors"
	"fmt"
)

// Description is the one-line summary shown by the CLI.
const Description = "Estimate time differences of arrival between microphone pairs"

// Info describes one build.
type Info struct {
	Name    string
	Time    string
	Commit  string
	Version string
}

// String renders the info as "name version (commit, time)".
func (i Info) String() string {
	return fmt.Sprintf("%s %s (%s, %s)", i.Name, i.Version, i.Commit, i.Time)
}

// Set by -ldflags. buildName defaults to the binary's name.
var (
	buildName    = "locator"
	buildTime    string
	buildCommit  string
	buildVersion string
	buildFlags   = &Info{
		Name:    "locator",
		Time:    "unknown",
		Commit:  "unknown",
		Version: "dev",
	}
)

// Initialize copies the linker-provided values into the build info. Every
// missing value is reported in the joined error and keeps its placeholder,
// so callers may treat the error as a warning.
func Initialize() error {
	var errs []error
	set := func(dst *string, val, flag string) {
		if val == "" {
			errs = append(errs, fmt.Errorf("%s is required", flag))
			return
		}
		*dst = val
	}
	set(&buildFlags.Name, buildName, "BuildName")
	set(&buildFlags.Time, buildTime, "BuildTime")
	set(&buildFlags.Commit, buildCommit, "BuildCommit")
	set(&buildFlags.Version, buildVersion, "BuildVersion")
	return errors.Join(errs...)
}

// GetBuildFlags returns the current build information.
func GetBuildFlags() *Info {
	return buildFlags
}
