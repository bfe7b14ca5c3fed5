package fieldmap

const (
	EntityLocations    = "locations"
	EntityEmployees    = "employees"
	EntityTransactions = "transactions"
	EntityVendors      = "vendors"
	EntityInvoices     = "invoices"
	EntityUsers        = "users"
)

// Defaults holds the built-in maps per platform and entity type.
var Defaults = map[string]map[string]Map{
	"square": {
		EntityLocations: {
			"name":                   "name",
			"address.address_line_1": "address_line1",
			"address.locality":       "city",
			"address.postal_code":    "postal_code",
			"address.country":        "country",
			"timezone":               "timezone",
			"status":                 "status",
		},
		EntityTransactions: {
			"location_id":           "location_external_id",
			"amount_money.amount":   "amount",
			"amount_money.currency": "currency",
			"status":                "status",
			"created_at":            "occurred_at",
		},
		EntityEmployees: {
			"given_name":    "first_name",
			"family_name":   "last_name",
			"email_address": "email",
			"phone_number":  "phone",
			"status":        "status",
		},
	},
	"toast": {
		EntityLocations: {
			"general.name":      "name",
			"location.address1": "address_line1",
			"location.city":     "city",
			"location.zipCode":  "postal_code",
			"location.country":  "country",
			"general.timeZone":  "timezone",
		},
		EntityTransactions: {
			"restaurantGuid": "location_external_id",
			"totalAmount":    "amount",
			"paymentStatus":  "status",
			"openedDate":     "occurred_at",
		},
		EntityEmployees: {
			"firstName":   "first_name",
			"lastName":    "last_name",
			"email":       "email",
			"phoneNumber": "phone",
		},
	},
	"clover": {
		EntityLocations: {
			"name":             "name",
			"address.address1": "address_line1",
			"address.city":     "city",
			"address.zip":      "postal_code",
			"address.country":  "country",
		},
		EntityTransactions: {
			"amount":      "amount",
			"currency":    "currency",
			"result":      "status",
			"createdTime": "occurred_at",
		},
		EntityEmployees: {
			"name":  "display_name",
			"email": "email",
			"role":  "role",
		},
	},
	"quickbooks": {
		EntityVendors: {
			"DisplayName":                 "name",
			"PrimaryEmailAddr.Address":    "email",
			"PrimaryPhone.FreeFormNumber": "phone",
			"Balance":                     "balance",
		},
		EntityInvoices: {
			"DocNumber":         "number",
			"TotalAmt":          "amount",
			"CurrencyRef.value": "currency",
			"TxnDate":           "issued_on",
			"DueDate":           "due_on",
			"Balance":           "balance_due",
		},
	},
	"xero": {
		EntityVendors: {
			"Name":         "name",
			"EmailAddress": "email",
			"TaxNumber":    "tax_number",
		},
		EntityInvoices: {
			"InvoiceNumber": "number",
			"Total":         "amount",
			"CurrencyCode":  "currency",
			"Date":          "issued_on",
			"DueDate":       "due_on",
			"AmountDue":     "balance_due",
		},
	},
	"adp": {
		EntityEmployees: {
			"person.legalName.givenName":        "first_name",
			"person.legalName.familyName1":      "last_name",
			"person.communication.email":        "email",
			"person.communication.mobile":       "phone",
			"workerStatus.statusCode.codeValue": "status",
			"workerDates.originalHireDate":      "hired_on",
		},
	},
	"gusto": {
		EntityEmployees: {
			"first_name": "first_name",
			"last_name":  "last_name",
			"email":      "email",
			"phone":      "phone",
			"terminated": "terminated",
			"hired_on":   "hired_on",
		},
	},
	"google_workspace": {
		EntityUsers: {
			"name.givenName":  "first_name",
			"name.familyName": "last_name",
			"primaryEmail":    "email",
			"suspended":       "suspended",
			"orgUnitPath":     "org_unit",
		},
	},
}
