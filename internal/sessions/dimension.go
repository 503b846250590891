package sessions

// Dimension indexes the aggregation breakdowns.
type Dimension int

const (
	DimGlobal Dimension = iota
	DimServer
	DimChannel
	DimCountry
	DimProtocol
	DimUserAgentClass
)

// NumDimensions sizes per-dimension arrays indexed by Dimension.
const NumDimensions = 6

func (d Dimension) String() string {
	switch d {
	case DimGlobal:
		return "global"
	case DimServer:
		return "server"
	case DimChannel:
		return "channel"
	case DimCountry:
		return "country"
	case DimProtocol:
		return "protocol"
	case DimUserAgentClass:
		return "user_agent_class"
	}
	return "unknown"
}

// dimensionKeys returns a session's bucket key for every dimension. The
// global dimension always maps to the empty key.
func dimensionKeys(s *Session) [NumDimensions]string {
	return [NumDimensions]string{
		DimGlobal:         "",
		DimServer:         s.Server,
		DimChannel:        s.Channel,
		DimCountry:        s.Country,
		DimProtocol:       s.Proto,
		DimUserAgentClass: string(s.UAClass),
	}
}
