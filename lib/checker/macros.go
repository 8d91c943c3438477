package checker

import "strconv"

// DefaultMacros resolves the standard macro set for a service. The result
// argument is optional; without it the output macro reflects the last
// stored result. The state, state type and attempt macros always come from
// the service itself.
func DefaultMacros(service *Service, result *Result) map[string]string {
	if result == nil {
		result = service.LastResult()
	}
	macros := map[string]string{
		"SERVICENAME":         service.Name(),
		"SERVICESTATE":        service.State().String(),
		"SERVICESTATETYPE":    service.StateType().String(),
		"SERVICEATTEMPT":      strconv.Itoa(service.CheckAttempt()),
		"SERVICECHECKCOMMAND": service.CheckCommand(),
	}
	if host := service.Host(); host != nil {
		macros["HOSTNAME"] = host.Name()
	}
	if result != nil {
		macros["SERVICEOUTPUT"] = result.Output()
	}
	return macros
}
