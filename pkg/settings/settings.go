// Package settings loads the daemon's process-wide configuration once at
// startup from opt.conf. Settings are immutable for the process lifetime;
// nothing in this package re-reads the file after Load returns.
package settings

import "time"

// Settings is the fully-resolved, defaulted daemon configuration.
type Settings struct {
	Port int

	Compositor string

	ScriptsAllowRoot bool

	CheckFinishedInterval time.Duration

	LauncherMappingTimeout      time.Duration
	LauncherMappingFoundTimeout time.Duration

	GPUCache         bool
	GPUID            []int
	GPUOnlyConnected bool
	GPUVendor        string

	CPUPerformance bool

	RequestAllowedUsers []string
	RequestEncrypted    bool

	ProfileCache      bool
	ProfilePreCaching bool

	NiceCheckInterval time.Duration

	OptimizeChildrenTimeout      time.Duration
	OptimizeChildrenFoundTimeout time.Duration
}

// Default returns the built-in defaults enumerated in the external
// interfaces section, before any opt.conf overrides are applied.
func Default() *Settings {
	return &Settings{
		Port:                         5087,
		Compositor:                   "",
		ScriptsAllowRoot:             false,
		CheckFinishedInterval:        3 * time.Second,
		LauncherMappingTimeout:       60 * time.Second,
		LauncherMappingFoundTimeout:  10 * time.Second,
		GPUCache:                     false,
		GPUID:                        nil,
		GPUOnlyConnected:             true,
		GPUVendor:                    "",
		CPUPerformance:               false,
		RequestAllowedUsers:          nil,
		RequestEncrypted:             true,
		ProfileCache:                 false,
		ProfilePreCaching:            false,
		NiceCheckInterval:            5 * time.Second,
		OptimizeChildrenTimeout:      30 * time.Second,
		OptimizeChildrenFoundTimeout: 10 * time.Second,
	}
}
