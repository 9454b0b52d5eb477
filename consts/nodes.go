package consts

// Branch identifies one research branch of the orchestration graph. The set is
// closed: every value is listed in Branches and wired at graph construction.
type Branch string

const (
	// 研究分支
	BranchFundamental Branch = "fundamental"
	BranchTechnical   Branch = "technical"
	BranchMacro       Branch = "macro"
	BranchIndustry    Branch = "industry"
	BranchPeer        Branch = "peer"
	BranchHeadline    Branch = "headline"
	BranchFilings     Branch = "filings"
)

// Branches lists every research branch in report order.
var Branches = []Branch{
	BranchFundamental,
	BranchTechnical,
	BranchMacro,
	BranchIndustry,
	BranchPeer,
	BranchHeadline,
	BranchFilings,
}

// Valid reports whether b is one of the known branches.
func (b Branch) Valid() bool {
	for _, known := range Branches {
		if b == known {
			return true
		}
	}
	return false
}

func (b Branch) String() string { return string(b) }

const (
	// 编排节点
	Validate  = "validate"
	Fanout    = "fanout"
	Aggregate = "aggregate"
	Evaluate  = "evaluate"
	Terminate = "terminate"

	// filings 子图内部节点
	FilingsIngest     = "filings_ingest"
	FilingsQueries    = "filings_queries"
	FilingsRetrieve   = "filings_retrieve"
	FilingsSynthesize = "filings_synthesize"
)

const (
	GraphName        = "CortexThesis-Orchestrator"
	FilingsGraphName = "CortexThesis-Filings"
)
