package upstream

// Resource names a legacy endpoint of the results service.
type Resource string

const (
	Batches          Resource = "batches"
	BatchDetails     Resource = "batch_details"
	Students         Resource = "students"
	StudentDetails   Resource = "student_details"
	Tests            Resource = "tests"
	TestDetails      Resource = "test_details"
	TestMissing      Resource = "test_missing"
	TestAverage      Resource = "test_average"
	TestRoster       Resource = "test_roster"
	DashboardSummary Resource = "dashboard"
	Areas            Resource = "areas"
	Login            Resource = "login"
)

// DefaultEndpoints maps each resource to its path below the base URL.
var DefaultEndpoints = map[Resource]string{
	Batches:          "results_sync/get_crt_batch.aspx",
	BatchDetails:     "results_sync/get_crt_batch_data.aspx",
	Students:         "results_sync/get_crt_studwise_detail_all.aspx",
	StudentDetails:   "results_sync/get_crt_studwise_detail.aspx",
	Tests:            "results_sync/get_crt_testwise.aspx",
	TestDetails:      "results_sync/get_crt_testwise_detail.aspx",
	TestMissing:      "results_sync/get_crt_studentwise_not.aspx",
	TestAverage:      "results_sync/get_crt_testwise_avg.aspx",
	TestRoster:       "results_sync/get_crt_testwise_all.aspx",
	DashboardSummary: "results_sync/get_crt_dashboard.aspx",
	Areas:            "results_sync/get_crt_areawise.aspx",
	Login:            "results_sync/get_crt_login.aspx",
}
