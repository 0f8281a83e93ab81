// Command iropsdemo runs the disruption-recovery engine end to end against
// scripted model responses and in-memory backends. No AWS credentials are
// needed; it exists to show the three-phase flow, the scored solutions, and
// the decision record.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/joho/godotenv"

	"github.com/skyops-ai/irops"
	"github.com/skyops-ai/irops/core"
	"github.com/skyops-ai/irops/model"
	"github.com/skyops-ai/irops/opsdata"
)

const disruption = "Flight UA1234 diverted to DEN after a hydraulic system failure, " +
	"180 passengers onboard, 45 with onward connections at ORD"

const analyzerAnswer = `{
  "recommendation": "Proceed with an aircraft swap at DEN using the spare 737",
  "reasoning": "The spare aircraft is positioned and staffed; swap minimizes total delay.",
  "confidence": 0.82
}`

const crewAnswer = `{
  "recommendation": "Swap to the reserve crew before continuing",
  "reasoning": "The inbound crew exceeds duty limits if the flight continues after repair.",
  "confidence": 0.9,
  "binding_constraints": ["Inbound crew may not operate the continuation leg past 22:00 local"]
}`

const arbitrationAnswer = `{
  "candidate_solutions": [
    {
      "title": "Aircraft swap at DEN",
      "description": "Swap to the positioned spare 737 with the reserve crew and continue to ORD",
      "recommendations": ["Assign spare aircraft N37252", "Activate reserve crew", "Rebook 12 tight connections"],
      "pros": ["Shortest total delay"],
      "cons": ["Spare unavailable for other recoveries tonight"],
      "risks": ["Reserve crew report time slips"],
      "confidence": 0.85,
      "estimated_duration": "3h30m",
      "impact": {
        "estimated_cost_usd": 42000,
        "passengers_affected": 30,
        "delay_hours": 3.5,
        "cancellation_required": false,
        "downstream_flights_affected": 2,
        "missed_connections": 12,
        "safety_margin": 0.7,
        "constraint_violations": []
      },
      "steps": [
        {"step_name": "Position spare", "description": "Tow N37252 to the gate", "responsible_agent": "maintenance", "dependencies": [], "estimated_duration_minutes": 45, "automation_possible": false, "action_type": "operational", "success_criteria": "Aircraft at gate", "rollback_procedure": "Return to remote stand"},
        {"step_name": "Activate reserve crew", "description": "Call out the DEN reserve crew", "responsible_agent": "crew_compliance", "dependencies": [], "estimated_duration_minutes": 90, "automation_possible": true, "action_type": "crew", "success_criteria": "Crew checked in", "rollback_procedure": "Release reserves"},
        {"step_name": "Board and depart", "description": "Board passengers and depart for ORD", "responsible_agent": "network", "dependencies": [1, 2], "estimated_duration_minutes": 60, "automation_possible": false, "action_type": "operational", "success_criteria": "Doors closed", "rollback_procedure": "Deplane"}
      ],
      "contingency_plans": ["Overnight the flight if the reserve crew cannot report by 21:00"]
    },
    {
      "title": "Overnight delay and morning departure",
      "description": "Hold the flight overnight, repair the hydraulic system, depart at 07:00",
      "recommendations": ["Book hotel blocks for 180 passengers", "Schedule overnight repair"],
      "pros": ["No spare aircraft consumed"],
      "cons": ["All connections missed"],
      "risks": ["Parts availability"],
      "confidence": 0.7,
      "estimated_duration": "12h",
      "impact": {
        "estimated_cost_usd": 95000,
        "passengers_affected": 180,
        "delay_hours": 12,
        "cancellation_required": false,
        "downstream_flights_affected": 4,
        "missed_connections": 45,
        "safety_margin": 0.9,
        "constraint_violations": []
      },
      "steps": [
        {"step_name": "Arrange accommodation", "description": "Hotel and meal vouchers for all passengers", "responsible_agent": "guest_experience", "dependencies": [], "estimated_duration_minutes": 120, "automation_possible": true, "action_type": "passenger", "success_criteria": "All passengers accommodated", "rollback_procedure": "Cancel blocks"},
        {"step_name": "Overnight repair", "description": "Replace the hydraulic pump", "responsible_agent": "maintenance", "dependencies": [], "estimated_duration_minutes": 360, "automation_possible": false, "action_type": "maintenance", "success_criteria": "Aircraft released to service", "rollback_procedure": "Defer to morning shift"}
      ],
      "contingency_plans": []
    }
  ],
  "business_conflicts": [],
  "justification": "The swap dominates on delay and connections while every binding constraint is satisfied.",
  "reasoning": "Both options respect the crew duty constraint; the swap recovers most itineraries.",
  "confidence": 0.85
}`

func seedOps() *opsdata.Static {
	flight := opsdata.Item{
		"flight_number": &types.AttributeValueMemberS{Value: "UA1234"},
		"origin":        &types.AttributeValueMemberS{Value: "SFO"},
		"destination":   &types.AttributeValueMemberS{Value: "ORD"},
		"aircraft":      &types.AttributeValueMemberS{Value: "N37251"},
		"status":        &types.AttributeValueMemberS{Value: "diverted"},
	}
	tables := core.DefaultConfig().OpsTables
	return &opsdata.Static{Tables: map[string][]opsdata.Item{
		tables.Flights: {flight},
	}}
}

// discardS3 accepts every decision-record write.
type discardS3 struct{}

func (discardS3) PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	return &s3.PutObjectOutput{}, nil
}

func main() {
	_ = godotenv.Load()

	cfg, err := core.LoadConfig(os.Getenv("IROPS_CONFIG"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	cfg.CheckpointMode = core.CheckpointModeMemory

	gateway := model.NewScriptedGateway().
		Respond("You are the arbitrator", arbitrationAnswer).
		Respond("You are the crew_compliance analyzer", crewAnswer).
		RespondDefault(analyzerAnswer)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	system, err := irops.New(ctx, cfg,
		irops.WithGateway(gateway),
		irops.WithOpsClient(seedOps()),
		irops.WithDecisionClient(discardS3{}),
		irops.WithLogger(core.NewJSONLogger()),
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "startup: %v\n", err)
		os.Exit(1)
	}

	result, err := system.HandleDisruption(ctx, disruption, "")
	if err != nil {
		fmt.Fprintf(os.Stderr, "disruption: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("\nThread %s finished in %dms\n\n", result.Thread, result.ExecutionTimeMS)
	for _, s := range result.Output.SolutionOptions {
		marker := " "
		if s.SolutionID == result.Output.RecommendedSolutionID {
			marker = "*"
		}
		fmt.Printf("%s [%d] %-38s composite=%5.1f safety=%5.1f cost=%5.1f pax=%5.1f net=%5.1f\n",
			marker, s.SolutionID, s.Title, s.CompositeScore, s.SafetyScore, s.CostScore, s.PassengerScore, s.NetworkScore)
	}

	selection, err := system.RecordSelection(ctx, result.Thread, result.Output.RecommendedSolutionID, "accepted engine recommendation")
	if err != nil {
		fmt.Fprintf(os.Stderr, "selection: %v\n", err)
		os.Exit(1)
	}

	out, _ := json.MarshalIndent(selection, "", "  ")
	fmt.Printf("\nDecision record:\n%s\n", out)
}
