package sharedstate

import "github.com/guapow/opt/pkg/sysutil/cpufreq"

// cpuState is the per-CPU governor and (where present) energy_perf_bias
// values captured on the first acquire.
type cpuState struct {
	Governors map[int]string
	EPB       map[int]string
}

// NewCPUPerformanceManager builds the shared-state manager backing
// `cpu.performance`: on first acquire it captures every cpu's current
// governor (and EPB where the node exists) then writes `performance`/`0`;
// on last release it restores the captured originals per CPU.
func NewCPUPerformanceManager(cpus []int) *Manager[cpuState] {
	capture := func() (cpuState, error) {
		st := cpuState{Governors: make(map[int]string, len(cpus)), EPB: make(map[int]string, len(cpus))}

		for _, c := range cpus {
			g, err := cpufreq.Governor(c)
			if err != nil {
				return st, err
			}

			st.Governors[c] = g

			if cpufreq.HasEPB(c) {
				e, err := cpufreq.EPB(c)
				if err != nil {
					return st, err
				}

				st.EPB[c] = e
			}
		}

		return st, nil
	}

	apply := func() error {
		for _, c := range cpus {
			if err := cpufreq.SetGovernor(c, cpufreq.PerformanceGovernor); err != nil {
				return err
			}

			if cpufreq.HasEPB(c) {
				if err := cpufreq.SetEPB(c, cpufreq.PerformanceEPB); err != nil {
					return err
				}
			}
		}

		return nil
	}

	restore := func(st cpuState) error {
		for c, g := range st.Governors {
			if err := cpufreq.SetGovernor(c, g); err != nil {
				return err
			}
		}

		for c, e := range st.EPB {
			if err := cpufreq.SetEPB(c, e); err != nil {
				return err
			}
		}

		return nil
	}

	return NewManager(capture, apply, restore)
}
