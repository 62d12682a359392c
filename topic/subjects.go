package topic

import "fmt"

// Subject prefixes used by the router. These mirror the predefined topic
// patterns in the registry.
const (
	discoveryPrefix  = "tenant.discovery"
	simulationPrefix = "simulation"
	systemPrefix     = "system"
)

// DiscoverySubject builds the subject for a discovery-session event:
// "tenant.discovery.<session_id>.<event_type>".
//
// Identifiers are inserted verbatim; callers supplying identifiers that
// contain the subject delimiter produce extra hierarchy levels.
func DiscoverySubject(sessionID, eventType string) string {
	return fmt.Sprintf("%s.%s.%s", discoveryPrefix, sessionID, eventType)
}

// SimulationSubject builds the subject for a simulation event:
// "simulation.<simulation_id>.<event_type>".
func SimulationSubject(simulationID, eventType string) string {
	return fmt.Sprintf("%s.%s.%s", simulationPrefix, simulationID, eventType)
}

// SystemSubject builds the subject for a platform component event:
// "system.<component>.<event_type>".
func SystemSubject(component, eventType string) string {
	return fmt.Sprintf("%s.%s.%s", systemPrefix, component, eventType)
}
