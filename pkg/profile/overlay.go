package profile

// Overlay applies a `profile-add` option set on top of a resolved base:
// scalars and pointers in add win when set; list-shaped options are
// appended rather than replaced. base is not mutated.
func Overlay(base, add *Options) *Options {
	if add == nil {
		return base
	}

	if base == nil {
		base = New()
	}

	out := *base

	// The struct copy above still shares base's Scripts map; copy it so
	// the per-phase merge below cannot write through into base.
	out.Scripts = make(map[ScriptPhaseName]ScriptPhase, len(base.Scripts))
	for phase, spec := range base.Scripts {
		out.Scripts[phase] = spec
	}

	if add.ProcNice != nil {
		v := *add.ProcNice
		out.ProcNice = &v
	}

	out.ProcNiceWatch = out.ProcNiceWatch || add.ProcNiceWatch

	if add.ProcNiceDelay != 0 {
		out.ProcNiceDelay = add.ProcNiceDelay
	}

	if add.ProcIOClass != "" {
		out.ProcIOClass = add.ProcIOClass
	}

	if add.ProcIONice != nil {
		v := *add.ProcIONice
		out.ProcIONice = &v
	}

	if add.ProcPolicy != "" {
		out.ProcPolicy = add.ProcPolicy
	}

	if add.ProcPolicyPriority != nil {
		v := *add.ProcPolicyPriority
		out.ProcPolicyPriority = &v
	}

	if len(add.ProcAffinity) > 0 {
		out.ProcAffinity = append(append([]int{}, out.ProcAffinity...), add.ProcAffinity...)
	}

	if len(add.ProcEnv) > 0 {
		out.ProcEnv = append(append([]EnvVar{}, out.ProcEnv...), add.ProcEnv...)
	}

	out.CPUPerformance = out.CPUPerformance || add.CPUPerformance
	out.GPUPerformance = out.GPUPerformance || add.GPUPerformance
	out.CompositorOff = out.CompositorOff || add.CompositorOff
	out.MouseHidden = out.MouseHidden || add.MouseHidden

	out.StopBefore = append(append([]string{}, out.StopBefore...), add.StopBefore...)
	out.StopBeforeRelaunch = out.StopBeforeRelaunch || add.StopBeforeRelaunch
	out.StopAfter = append(append([]string{}, out.StopAfter...), add.StopAfter...)
	out.StopAfterRelaunch = out.StopAfterRelaunch || add.StopAfterRelaunch

	for phase, addPhase := range add.Scripts {
		basePhase := out.Scripts[phase]
		basePhase.Commands = append(append([]string{}, basePhase.Commands...), addPhase.Commands...)
		basePhase.Wait = basePhase.Wait || addPhase.Wait

		if addPhase.Timeout != nil {
			v := *addPhase.Timeout
			basePhase.Timeout = &v
		}

		basePhase.Root = basePhase.Root || addPhase.Root
		out.Scripts[phase] = basePhase
	}

	out.Launcher = append(append([]LauncherRule{}, out.Launcher...), add.Launcher...)
	out.LauncherSkipMapping = out.LauncherSkipMapping || add.LauncherSkipMapping
	out.Steam = out.Steam || add.Steam

	return &out
}
