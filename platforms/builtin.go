package platforms

import (
	"bitbucket.org/mmdatafocus/integration_platform/fieldmap"
	"bitbucket.org/mmdatafocus/integration_platform/models"
)

type BuiltinOptions struct {
	Client             ClientOptions
	PhoneDefaultRegion string
}

func builtinProfiles(region string) []profile {
	if region == "" {
		region = "US"
	}
	return []profile{
		{
			platform:       "square",
			category:       models.PlatformCategoryPOS,
			defaultBaseURL: "https://connect.squareup.com",
			entities: map[string]endpoint{
				fieldmap.EntityLocations:    {path: "/v2/locations", idField: "id", updatedField: "updated_at"},
				fieldmap.EntityTransactions: {path: "/v2/payments", idField: "id", updatedField: "updated_at", normalize: minorUnitsToAmount("amount_money.amount")},
				fieldmap.EntityEmployees:    {path: "/v2/team-members", idField: "id", updatedField: "updated_at", normalize: e164Phone("phone_number", region)},
			},
		},
		{
			platform:       "toast",
			category:       models.PlatformCategoryPOS,
			defaultBaseURL: "https://ws-api.toasttab.com",
			entities: map[string]endpoint{
				fieldmap.EntityLocations:    {path: "/restaurants/v1/restaurants", idField: "guid", updatedField: "modifiedDate"},
				fieldmap.EntityTransactions: {path: "/orders/v2/orders", idField: "guid", updatedField: "modifiedDate", normalize: roundAmount("totalAmount")},
				fieldmap.EntityEmployees:    {path: "/labor/v1/employees", idField: "guid", updatedField: "modifiedDate", normalize: e164Phone("phoneNumber", region)},
			},
		},
		{
			platform:       "clover",
			category:       models.PlatformCategoryPOS,
			defaultBaseURL: "https://api.clover.com",
			entities: map[string]endpoint{
				fieldmap.EntityLocations:    {path: "/v3/merchants", idField: "id", updatedField: "modifiedTime"},
				fieldmap.EntityTransactions: {path: "/v3/payments", idField: "id", updatedField: "modifiedTime", normalize: minorUnitsToAmount("amount")},
				fieldmap.EntityEmployees:    {path: "/v3/employees", idField: "id", updatedField: "modifiedTime"},
			},
		},
		{
			platform:       "quickbooks",
			category:       models.PlatformCategoryAccounting,
			defaultBaseURL: "https://quickbooks.api.intuit.com",
			entities: map[string]endpoint{
				fieldmap.EntityVendors:  {path: "/v3/vendors", idField: "Id", updatedField: "LastUpdatedTime", normalize: roundAmount("Balance")},
				fieldmap.EntityInvoices: {path: "/v3/invoices", idField: "Id", updatedField: "LastUpdatedTime", normalize: roundAmount("TotalAmt")},
			},
		},
		{
			platform:       "xero",
			category:       models.PlatformCategoryAccounting,
			defaultBaseURL: "https://api.xero.com/api.xro/2.0",
			entities: map[string]endpoint{
				fieldmap.EntityVendors:  {path: "/Contacts", idField: "ContactID", updatedField: "UpdatedDateUTC"},
				fieldmap.EntityInvoices: {path: "/Invoices", idField: "InvoiceID", updatedField: "UpdatedDateUTC", normalize: roundAmount("Total")},
			},
		},
		{
			platform:       "adp",
			category:       models.PlatformCategoryPayroll,
			defaultBaseURL: "https://api.adp.com",
			entities: map[string]endpoint{
				fieldmap.EntityEmployees: {path: "/hr/v2/workers", idField: "associateOID", updatedField: "asOfDate", normalize: e164Phone("person.communication.mobile", region)},
			},
		},
		{
			platform:       "gusto",
			category:       models.PlatformCategoryPayroll,
			defaultBaseURL: "https://api.gusto.com",
			entities: map[string]endpoint{
				fieldmap.EntityEmployees: {path: "/v1/employees", idField: "uuid", updatedField: "updated_at", normalize: e164Phone("phone", region)},
			},
		},
		{
			platform:       "google_workspace",
			category:       models.PlatformCategoryProductivity,
			defaultBaseURL: "https://admin.googleapis.com/admin/directory/v1",
			entities: map[string]endpoint{
				fieldmap.EntityUsers: {path: "/users", idField: "id"},
			},
		},
	}
}

// Builtins returns one adapter per built-in platform.
func Builtins(opts BuiltinOptions) []Adapter {
	profiles := builtinProfiles(opts.PhoneDefaultRegion)
	out := make([]Adapter, 0, len(profiles))
	for _, p := range profiles {
		out = append(out, newRESTAdapter(p, opts.Client))
	}
	return out
}

// NewBuiltinRegistry is the registry the API server and workers use.
func NewBuiltinRegistry(opts BuiltinOptions) *Registry {
	return NewRegistry(Builtins(opts)...)
}
