package provider

import "strings"

// Category is one of the fixed service groupings used to route a task to an
// adapter.
type Category string

const (
	CategoryCompute    Category = "compute"
	CategoryStorage    Category = "storage"
	CategoryDatabase   Category = "database"
	CategoryNetworking Category = "networking"
	CategorySecurity   Category = "security"
	CategoryManagement Category = "management"
)

// serviceCategories maps raw service identifiers to categories. The table is
// explicit rather than derived; identifiers absent from it resolve to compute
// so tasks against services newer than the table still dispatch.
var serviceCategories = map[string]Category{
	"ec2":              CategoryCompute,
	"lambda":           CategoryCompute,
	"lightsail":        CategoryCompute,
	"batch":            CategoryCompute,
	"elasticbeanstalk": CategoryCompute,
	"apprunner":        CategoryCompute,

	"s3":      CategoryStorage,
	"efs":     CategoryStorage,
	"fsx":     CategoryStorage,
	"glacier": CategoryStorage,
	"backup":  CategoryStorage,

	"rds":         CategoryDatabase,
	"aurora":      CategoryDatabase,
	"dynamodb":    CategoryDatabase,
	"elasticache": CategoryDatabase,
	"neptune":     CategoryDatabase,
	"docdb":       CategoryDatabase,
	"timestream":  CategoryDatabase,

	"vpc":               CategoryNetworking,
	"cloudfront":        CategoryNetworking,
	"apigateway":        CategoryNetworking,
	"route53":           CategoryNetworking,
	"directconnect":     CategoryNetworking,
	"globalaccelerator": CategoryNetworking,

	"iam":            CategorySecurity,
	"cognito":        CategorySecurity,
	"secretsmanager": CategorySecurity,
	"guardduty":      CategorySecurity,
	"inspector":      CategorySecurity,
	"macie":          CategorySecurity,
	"securityhub":    CategorySecurity,

	"cloudwatch":     CategoryManagement,
	"cloudformation": CategoryManagement,
	"ssm":            CategoryManagement,
	"config":         CategoryManagement,
	"organizations":  CategoryManagement,
	"autoscaling":    CategoryManagement,
}

// ResolveCategory maps a raw service identifier to its category,
// case-insensitively. Unknown identifiers resolve to compute. Pure function,
// no failure mode.
func ResolveCategory(service string) Category {
	if c, ok := serviceCategories[strings.ToLower(strings.TrimSpace(service))]; ok {
		return c
	}
	return CategoryCompute
}

// Categories returns the fixed category set.
func Categories() []Category {
	return []Category{
		CategoryCompute, CategoryStorage, CategoryDatabase,
		CategoryNetworking, CategorySecurity, CategoryManagement,
	}
}
