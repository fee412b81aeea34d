package provider

// clientSpec declares one sub-client: the endpoint service it talks to and
// the canonical operations it exposes. Routing keys that share an endpoint
// (vpc rides the ec2 API, aurora the rds API) declare it explicitly.
type clientSpec struct {
	endpoint string
	ops      []string
}

// categoryClients is the full capability surface, keyed by category then by
// routing service identifier. Operations are read-only inventory and
// inspection calls.
var categoryClients = map[Category]map[string]clientSpec{
	CategoryCompute: {
		"ec2": {ops: []string{
			"DescribeInstances", "DescribeImages", "DescribeVolumes", "DescribeSnapshots",
			"DescribeSecurityGroups", "DescribeKeyPairs", "DescribeAddresses",
			"DescribeRegions", "DescribeAvailabilityZones", "DescribeTags",
		}},
		"lambda": {ops: []string{
			"ListFunctions", "GetFunction", "ListLayers", "ListAliases",
			"GetAccountSettings", "ListEventSourceMappings",
		}},
		"lightsail": {ops: []string{
			"GetInstances", "GetDatabases", "GetRegions", "GetStaticIps", "GetDisks",
		}},
		"batch": {ops: []string{
			"DescribeComputeEnvironments", "DescribeJobQueues", "DescribeJobDefinitions", "ListJobs",
		}},
		"elasticbeanstalk": {ops: []string{
			"DescribeApplications", "DescribeEnvironments", "DescribeEvents", "ListPlatformVersions",
		}},
		"apprunner": {ops: []string{
			"ListServices", "DescribeService", "ListConnections",
		}},
	},
	CategoryStorage: {
		"s3": {ops: []string{
			"ListBuckets", "GetBucketLocation", "GetBucketVersioning", "GetBucketEncryption",
			"ListObjectsV2", "GetBucketAcl", "GetBucketPolicy", "GetBucketTagging",
		}},
		"efs": {endpoint: "elasticfilesystem", ops: []string{
			"DescribeFileSystems", "DescribeMountTargets", "DescribeAccessPoints",
		}},
		"fsx": {ops: []string{
			"DescribeFileSystems", "DescribeBackups", "DescribeVolumes",
		}},
		"glacier": {ops: []string{
			"ListVaults", "DescribeVault", "ListJobs",
		}},
		"backup": {ops: []string{
			"ListBackupVaults", "ListBackupPlans", "ListBackupJobs", "ListRecoveryPointsByBackupVault",
		}},
	},
	CategoryDatabase: {
		"rds": {ops: []string{
			"DescribeDBInstances", "DescribeDBClusters", "DescribeDBSnapshots",
			"DescribeDBClusterSnapshots", "DescribeDBSubnetGroups", "DescribeEvents",
		}},
		"aurora": {endpoint: "rds", ops: []string{
			"DescribeDBClusters", "DescribeDBClusterSnapshots", "DescribeDBClusterEndpoints",
		}},
		"dynamodb": {ops: []string{
			"ListTables", "DescribeTable", "DescribeLimits", "ListBackups", "DescribeContinuousBackups",
		}},
		"elasticache": {ops: []string{
			"DescribeCacheClusters", "DescribeReplicationGroups", "DescribeCacheSubnetGroups", "DescribeEvents",
		}},
		"neptune": {ops: []string{
			"DescribeDBClusters", "DescribeDBInstances", "DescribeEvents",
		}},
		"docdb": {ops: []string{
			"DescribeDBClusters", "DescribeDBInstances", "DescribeDBClusterSnapshots",
		}},
		"timestream": {endpoint: "query.timestream", ops: []string{
			"Query", "DescribeEndpoints",
		}},
	},
	CategoryNetworking: {
		"vpc": {endpoint: "ec2", ops: []string{
			"DescribeVpcs", "DescribeSubnets", "DescribeRouteTables", "DescribeInternetGateways",
			"DescribeNatGateways", "DescribeVpcEndpoints", "DescribeNetworkAcls",
		}},
		"cloudfront": {ops: []string{
			"ListDistributions", "GetDistribution", "ListCachePolicies", "ListOriginAccessControls",
		}},
		"apigateway": {ops: []string{
			"GetRestApis", "GetApiKeys", "GetUsagePlans", "GetDomainNames",
		}},
		"route53": {ops: []string{
			"ListHostedZones", "ListResourceRecordSets", "GetHostedZone", "ListHealthChecks",
		}},
		"directconnect": {ops: []string{
			"DescribeConnections", "DescribeVirtualInterfaces", "DescribeLocations",
		}},
		"globalaccelerator": {ops: []string{
			"ListAccelerators", "DescribeAccelerator", "ListListeners",
		}},
	},
	CategorySecurity: {
		"iam": {ops: []string{
			"ListUsers", "ListRoles", "ListGroups", "ListPolicies", "GetAccountSummary",
			"ListAccessKeys", "GetCredentialReport", "ListMFADevices",
		}},
		"cognito": {endpoint: "cognito-idp", ops: []string{
			"ListUserPools", "ListUsers", "DescribeUserPool",
		}},
		"secretsmanager": {ops: []string{
			"ListSecrets", "DescribeSecret", "GetResourcePolicy",
		}},
		"guardduty": {ops: []string{
			"ListDetectors", "GetDetector", "ListFindings", "GetFindings",
		}},
		"inspector": {endpoint: "inspector2", ops: []string{
			"ListFindings", "ListCoverage", "BatchGetAccountStatus",
		}},
		"macie": {endpoint: "macie2", ops: []string{
			"GetMacieSession", "ListFindings", "ListClassificationJobs",
		}},
		"securityhub": {ops: []string{
			"GetFindings", "DescribeHub", "GetEnabledStandards", "ListMembers",
		}},
	},
	CategoryManagement: {
		"cloudwatch": {endpoint: "monitoring", ops: []string{
			"ListMetrics", "DescribeAlarms", "GetMetricStatistics", "ListDashboards",
		}},
		"cloudformation": {ops: []string{
			"DescribeStacks", "ListStacks", "ListStackResources", "GetTemplateSummary", "DescribeStackEvents",
		}},
		"ssm": {ops: []string{
			"DescribeInstanceInformation", "ListDocuments", "GetParametersByPath",
			"DescribeParameters", "ListAssociations",
		}},
		"config": {ops: []string{
			"DescribeConfigRules", "DescribeConfigurationRecorders", "DescribeComplianceByConfigRule",
		}},
		"organizations": {ops: []string{
			"DescribeOrganization", "ListAccounts", "ListRoots",
			"ListOrganizationalUnitsForParent", "ListPolicies",
		}},
		"autoscaling": {ops: []string{
			"DescribeAutoScalingGroups", "DescribeLaunchConfigurations",
			"DescribeScalingActivities", "DescribePolicies",
		}},
	},
}
