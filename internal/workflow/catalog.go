package workflow

// Roles used by the default clearance catalog.
const (
	RoleVicePresident     = "vice_president"
	RoleHeadOfDepartment  = "head_of_department"
	RoleDean              = "dean"
	RoleLibrarian         = "librarian"
	RoleICTOfficer        = "ict_officer"
	RoleStoreOfficer      = "store_officer"
	RoleWorksStoreOfficer = "works_store_officer"
	RolePropertyDirector  = "property_director"
	RoleBursar            = "bursar"
	RoleInternalAuditor   = "internal_auditor"
	RoleHROfficer         = "hr_officer"
	RoleRecordsOfficer    = "records_officer"
)

// DefaultTemplates returns the standard staff exit/transfer clearance graph.
//
// The two store clearances form an interdependent cluster: the property
// director only becomes available once both stores have cleared. The
// vice-president signs twice, once to open the departmental stage and once
// after human resources; the two signatures are told apart by tag.
func DefaultTemplates() []StepTemplate {
	return []StepTemplate{
		{
			Order:        1,
			Stage:        StageInitiation,
			Name:         "Vice-President initial approval",
			Description:  "Authorises the clearance process to begin",
			AllowedRoles: []string{RoleVicePresident},
			Sequential:   true,
			SignatureTag: TagVPInitial,
		},
		{
			Order:        2,
			Stage:        StageDepartmental,
			Name:         "Head of Department",
			Description:  "Confirms handover of departmental duties",
			AllowedRoles: []string{RoleHeadOfDepartment},
			Sequential:   true,
			DependsOn:    []int{1},
		},
		{
			Order:        3,
			Stage:        StageDepartmental,
			Name:         "College Dean",
			Description:  "Confirms college-level obligations are settled",
			AllowedRoles: []string{RoleDean},
			Sequential:   true,
			DependsOn:    []int{2},
		},
		{
			Order:        4,
			Stage:        StageDepartmental,
			Name:         "University Library",
			Description:  "Confirms no outstanding loans or fines",
			AllowedRoles: []string{RoleLibrarian},
			DependsOn:    []int{1},
		},
		{
			Order:        5,
			Stage:        StageDepartmental,
			Name:         "ICT Services",
			Description:  "Confirms return of devices and revocation of accounts",
			AllowedRoles: []string{RoleICTOfficer},
			DependsOn:    []int{1},
		},
		{
			Order:              6,
			Stage:              StageConditional,
			Name:               "Central Store",
			Description:        "Confirms return of items issued by the central store",
			AllowedRoles:       []string{RoleStoreOfficer},
			DependsOn:          []int{1},
			Interdependent:     true,
			InterdependentWith: []int{7},
		},
		{
			Order:              7,
			Stage:              StageConditional,
			Name:               "Works Store",
			Description:        "Confirms return of tools and equipment issued by works",
			AllowedRoles:       []string{RoleWorksStoreOfficer},
			DependsOn:          []int{1},
			Interdependent:     true,
			InterdependentWith: []int{6},
		},
		{
			Order:        8,
			Stage:        StageConditional,
			Name:         "Property Director",
			Description:  "Confirms all university property has been recovered",
			AllowedRoles: []string{RolePropertyDirector},
			Sequential:   true,
			DependsOn:    []int{6},
		},
		{
			Order:        9,
			Stage:        StageFinancial,
			Name:         "Bursary",
			Description:  "Confirms no outstanding loans, advances or debts",
			AllowedRoles: []string{RoleBursar},
			Sequential:   true,
			DependsOn:    []int{3, 4, 5, 8},
		},
		{
			Order:        10,
			Stage:        StageFinancial,
			Name:         "Internal Audit",
			Description:  "Verifies the financial clearance",
			AllowedRoles: []string{RoleInternalAuditor},
			Sequential:   true,
			DependsOn:    []int{9},
		},
		{
			Order:        11,
			Stage:        StageFinal,
			Name:         "Human Resources",
			Description:  "Processes the exit or transfer record",
			AllowedRoles: []string{RoleHROfficer},
			Sequential:   true,
			DependsOn:    []int{10},
		},
		{
			Order:        12,
			Stage:        StageFinal,
			Name:         "Vice-President final approval",
			Description:  "Signs off the completed clearance",
			AllowedRoles: []string{RoleVicePresident},
			Sequential:   true,
			DependsOn:    []int{11},
			SignatureTag: TagVPFinal,
		},
		{
			Order:        13,
			Stage:        StageFinal,
			Name:         "Records and archiving",
			Description:  "Files the signed clearance",
			AllowedRoles: []string{RoleRecordsOfficer},
			Sequential:   true,
			DependsOn:    []int{12},
			SignatureTag: TagArchive,
		},
	}
}

// DefaultCatalog returns the validated default clearance catalog.
func DefaultCatalog() *Catalog {
	return MustCatalog(DefaultTemplates())
}
