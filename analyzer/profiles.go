package analyzer

import (
	"github.com/skyops-ai/irops/core"
	"github.com/skyops-ai/irops/model"
	"github.com/skyops-ai/irops/opsdata"
)

// Profiles returns the seven domain analyzer profiles, safety tier first.
func Profiles() []Profile {
	return []Profile{
		{
			AgentName: core.AgentCrewCompliance,
			IsSafety:  true,
			Focus: "Assess crew legality: duty-time limits, required rest, qualification " +
				"currency and reserve availability. Any recovery option that would put a " +
				"crew member over a regulatory limit is a hard violation; report it as a " +
				"binding constraint.",
			Reads: []ReadSpec{
				{Table: func(t core.OpsTables) string { return t.Crew }, KeyAttr: "flight_number"},
				{Table: func(t core.OpsTables) string { return t.Flights }, KeyAttr: "flight_number"},
			},
		},
		{
			AgentName: core.AgentMaintenance,
			IsSafety:  true,
			Focus: "Assess airworthiness: open MEL items, deferred defects, required " +
				"inspections and AOG status. Dispatching an aircraft outside its " +
				"maintenance envelope is a hard violation; report it as a binding constraint.",
			Reads: []ReadSpec{
				{Table: func(t core.OpsTables) string { return t.Aircraft }, KeyAttr: "flight_number"},
				{Table: func(t core.OpsTables) string { return t.Flights }, KeyAttr: "flight_number"},
			},
		},
		{
			AgentName: core.AgentRegulatory,
			IsSafety:  true,
			Focus: "Assess regulatory exposure: curfews, slot restrictions, ETOPS and " +
				"overflight permissions, and passenger-rights obligations. An option that " +
				"breaches a regulation is a hard violation; report it as a binding constraint.",
			Reads: []ReadSpec{
				{Table: func(t core.OpsTables) string { return t.Flights }, KeyAttr: "flight_number"},
			},
		},
		{
			AgentName: core.AgentNetwork,
			IsSafety:  false,
			Focus: "Assess downstream network impact: aircraft rotations, connecting banks " +
				"and knock-on delays. Recommend the option that protects the most of the " +
				"remaining schedule.",
			Reads: []ReadSpec{
				{Table: func(t core.OpsTables) string { return t.Connections }, KeyAttr: "flight_number"},
				{Table: func(t core.OpsTables) string { return t.Flights }, KeyAttr: "flight_number"},
			},
		},
		{
			AgentName: core.AgentGuestExperience,
			IsSafety:  false,
			Focus: "Assess passenger impact: misconnections, rebooking options, hotel and " +
				"meal obligations, and high-value customers affected. Recommend the option " +
				"that minimizes passenger disruption.",
			Reads: []ReadSpec{
				{Table: func(t core.OpsTables) string { return t.Bookings }, KeyAttr: "flight_number"},
			},
		},
		{
			AgentName: core.AgentCargo,
			IsSafety:  false,
			Focus: "Assess cargo impact: time-sensitive shipments, cold-chain loads, " +
				"mail contracts and offload options. Recommend how to protect the most " +
				"critical freight.",
			Reads: []ReadSpec{
				{Table: func(t core.OpsTables) string { return t.Cargo }, KeyAttr: "flight_number"},
			},
		},
		{
			AgentName: core.AgentFinance,
			IsSafety:  false,
			Focus: "Assess financial impact: direct recovery cost, compensation exposure, " +
				"crew and fuel deltas, and revenue at risk. Recommend the most " +
				"cost-effective option that remains operationally sound.",
			Reads: []ReadSpec{
				{Table: func(t core.OpsTables) string { return t.Flights }, KeyAttr: "flight_number"},
				{Table: func(t core.OpsTables) string { return t.Bookings }, KeyAttr: "flight_number"},
			},
		},
	}
}

// NewSuite builds the seven analyzers over shared infrastructure.
func NewSuite(gateway model.Gateway, accessor *opsdata.Accessor, tables core.OpsTables, logger core.Logger, telemetry core.Telemetry) []Analyzer {
	profiles := Profiles()
	suite := make([]Analyzer, len(profiles))
	for i, p := range profiles {
		suite[i] = NewDomainAnalyzer(p, gateway, accessor, tables, logger, telemetry)
	}
	return suite
}
