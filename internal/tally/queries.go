package tally

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const optionalVoucherCollection = "TBOptionalVouchers"

// sqlString quotes a value as an ODBC string literal. XML escaping happens
// later, at render time.
func sqlString(v string) string {
	return "'" + strings.ReplaceAll(v, "'", "''") + "'"
}

func odbcRequest(company, sql string, tdl ...*Element) string {
	desc := Elem("DESC",
		Elem("STATICVARIABLES",
			Text("SVCURRENTCOMPANY", company),
			Text("SVEXPORTFORMAT", "$$SysName:XML"),
		),
	)
	if len(tdl) > 0 {
		desc.Add(Elem("TDL", Elem("TDLMESSAGE", tdl...)))
	}
	return Elem("ENVELOPE",
		Elem("HEADER",
			Text("VERSION", "1"),
			Text("TALLYREQUEST", "Export"),
			Text("TYPE", "Data"),
			Text("ID", "ODBC Report"),
		),
		Elem("BODY",
			desc,
			Elem("DATA", Text("SQLREQUEST", sql).Attr("TYPE", "General").Attr("METHOD", "SQLExecute")),
		),
	).Render()
}

// OptionalVouchersQuery lists optional vouchers newer than afterMasterID.
// Column order is part of the contract with ParseVoucherListXML.
func OptionalVouchersQuery(company Company, afterMasterID int64) string {
	sql := fmt.Sprintf(
		"SELECT $MasterID, $Date, $VoucherNumber, $VoucherTypeName, $PartyLedgerName, $Amount, $Narration FROM %s WHERE $MasterID > %d ORDER BY $MasterID",
		optionalVoucherCollection, afterMasterID,
	)
	collection := Elem("COLLECTION",
		Text("TYPE", "Voucher"),
		Text("FETCH", "MasterID, Date, VoucherNumber, VoucherTypeName, PartyLedgerName, Amount, Narration"),
		Text("FILTER", "TBIsOptional"),
	).Attr("NAME", optionalVoucherCollection).Attr("ISMODIFY", "No")
	formula := Text("SYSTEM", "$IsOptional").Attr("TYPE", "Formulae").Attr("NAME", "TBIsOptional")
	return odbcRequest(company.Name, sql, collection, formula)
}

// LedgerBalanceQuery fetches name, closing balance and credit limit.
func LedgerBalanceQuery(company Company, party string) string {
	sql := "SELECT $Name, $ClosingBalance, $CreditLimit FROM Ledger WHERE $Name = " + sqlString(party)
	return odbcRequest(company.Name, sql)
}

// PartyBillsQuery fetches the open bills of a party: reference, bill date,
// due date and outstanding amount.
func PartyBillsQuery(company Company, party string) string {
	sql := "SELECT $Name, $BillDate, $BillDueDate, $ClosingBalance FROM Bills WHERE $Parent = " + sqlString(party) + " AND $ClosingBalance <> 0"
	return odbcRequest(company.Name, sql)
}

// VoucherDetailQuery exports one voucher with its ledger and inventory
// entries.
func VoucherDetailQuery(company Company, masterID int64) string {
	const collectionName = "TBVoucherDetail"
	collection := Elem("COLLECTION",
		Text("TYPE", "Voucher"),
		Text("FETCH", "*, AllLedgerEntries, AllInventoryEntries, MasterID"),
		Text("FILTER", "TBByMasterID"),
	).Attr("NAME", collectionName).Attr("ISMODIFY", "No")
	formula := Text("SYSTEM", "$MasterID = "+strconv.FormatInt(masterID, 10)).
		Attr("TYPE", "Formulae").Attr("NAME", "TBByMasterID")
	return Elem("ENVELOPE",
		Elem("HEADER",
			Text("VERSION", "1"),
			Text("TALLYREQUEST", "Export"),
			Text("TYPE", "Collection"),
			Text("ID", collectionName),
		),
		Elem("BODY",
			Elem("DESC",
				Elem("STATICVARIABLES",
					Text("SVCURRENTCOMPANY", company.Name),
					Text("SVEXPORTFORMAT", "$$SysName:XML"),
				),
				Elem("TDL", Elem("TDLMESSAGE", collection, formula)),
			),
		),
	).Render()
}

// AuthorizeRequest turns an optional voucher into a regular one.
type AuthorizeRequest struct {
	Company   Company
	MasterID  int64
	Date      time.Time
	Narration string
	Approver  string
}

// AuthorizeVoucherXML builds the alter import that clears ISOPTIONAL and
// records the approver in the narration. A narration already ending in the
// approver's stamp is left as is.
func AuthorizeVoucherXML(req AuthorizeRequest) string {
	narration := strings.TrimSpace(req.Narration)
	if req.Approver != "" {
		stamp := "Authorized by " + req.Approver
		switch {
		case strings.HasSuffix(narration, stamp):
		case narration == "":
			narration = stamp
		default:
			narration += " | " + stamp
		}
	}
	vch := Elem("VOUCHER")
	if !req.Date.IsZero() {
		vch.Attr("DATE", FormatDate(req.Date))
	}
	vch.Attr("TAGNAME", "MASTERID").
		Attr("TAGVALUE", strconv.FormatInt(req.MasterID, 10)).
		Attr("ACTION", "Alter")
	if !req.Date.IsZero() {
		vch.Add(Text("DATE", FormatDate(req.Date)))
	}
	vch.Add(
		YesNo("ISOPTIONAL", false),
		Text("NARRATION", narration),
	)
	return importEnvelope(req.Company.Name, vch).Render()
}
