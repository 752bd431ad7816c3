package ubl

// invoiceTemplateV1 must never change once invoices were issued with it.
const invoiceTemplateV1 = `<?xml version="1.0" encoding="UTF-8"?>
<Invoice xmlns="urn:oasis:names:specification:ubl:schema:xsd:Invoice-2"
         xmlns:cac="urn:oasis:names:specification:ubl:schema:xsd:CommonAggregateComponents-2"
         xmlns:cbc="urn:oasis:names:specification:ubl:schema:xsd:CommonBasicComponents-2">
  <cbc:ProfileID>reporting:1.0</cbc:ProfileID>
  <cbc:ID>{{esc .InvoiceNumber}}</cbc:ID>
  <cbc:UUID>{{.ID}}</cbc:UUID>
  <cbc:IssueDate>{{.IssueDate}}</cbc:IssueDate>
  <cbc:InvoiceTypeCode>{{.TypeCode}}</cbc:InvoiceTypeCode>
{{- if .IsNote}}
  <cac:BillingReference>
    <cac:InvoiceDocumentReference>
      <cbc:ID>{{esc .BillingReference}}</cbc:ID>
    </cac:InvoiceDocumentReference>
  </cac:BillingReference>
{{- if .NoteReason}}
  <cbc:Note>{{esc .NoteReason}}</cbc:Note>
{{- end}}
{{- end}}
  <cac:AdditionalDocumentReference>
    <cbc:ID>ICV</cbc:ID>
    <cbc:UUID>{{.ICV}}</cbc:UUID>
  </cac:AdditionalDocumentReference>
  <cac:AdditionalDocumentReference>
    <cbc:ID>PIH</cbc:ID>
    <cac:Attachment>
      <cbc:EmbeddedDocumentBinaryObject mimeCode="text/plain">{{.PIH}}</cbc:EmbeddedDocumentBinaryObject>
    </cac:Attachment>
  </cac:AdditionalDocumentReference>
  <cac:AccountingSupplierParty>
    <cac:Party>
      <cac:PartyName><cbc:Name>{{esc .Seller.Name}}</cbc:Name></cac:PartyName>
      <cac:PartyTaxScheme>
        <cbc:CompanyID>{{esc .Seller.VAT}}</cbc:CompanyID>
      </cac:PartyTaxScheme>
    </cac:Party>
  </cac:AccountingSupplierParty>
  <cac:AccountingCustomerParty>
    <cac:Party>
      <cac:PartyName><cbc:Name>{{esc .Buyer.Name}}</cbc:Name></cac:PartyName>
      <cac:PartyTaxScheme>
        <cbc:CompanyID>{{esc .Buyer.VAT}}</cbc:CompanyID>
      </cac:PartyTaxScheme>
    </cac:Party>
  </cac:AccountingCustomerParty>
  <cac:LegalMonetaryTotal>
    <cbc:LineExtensionAmount>{{amount .Subtotal}}</cbc:LineExtensionAmount>
    <cbc:TaxExclusiveAmount>{{amount .Subtotal}}</cbc:TaxExclusiveAmount>
    <cbc:TaxInclusiveAmount>{{amount .Total}}</cbc:TaxInclusiveAmount>
    <cbc:PayableAmount>{{amount .Total}}</cbc:PayableAmount>
  </cac:LegalMonetaryTotal>
  <cac:TaxTotal>
    <cbc:TaxAmount>{{amount .VATAmount}}</cbc:TaxAmount>
  </cac:TaxTotal>
{{- range .Lines}}
  <cac:InvoiceLine>
    <cbc:ID>{{.Index}}</cbc:ID>
    <cbc:InvoicedQuantity unitCode="{{esc .Unit}}">{{qty .Quantity}}</cbc:InvoicedQuantity>
    <cbc:LineExtensionAmount>{{amount .LineTotal}}</cbc:LineExtensionAmount>
    <cac:Item>
      <cbc:Description>{{esc .Description}}</cbc:Description>
    </cac:Item>
    <cac:Price>
      <cbc:PriceAmount>{{amount .UnitPrice}}</cbc:PriceAmount>
    </cac:Price>
    <cac:TaxTotal>
      <cbc:TaxAmount>{{amount .VATAmount}}</cbc:TaxAmount>
      <cac:TaxSubtotal>
        <cbc:TaxableAmount>{{amount .LineTotal}}</cbc:TaxableAmount>
        <cbc:TaxAmount>{{amount .VATAmount}}</cbc:TaxAmount>
        <cac:TaxCategory>
          <cbc:ID>{{.CategoryCode}}</cbc:ID>
          <cbc:Percent>{{amount .Percent}}</cbc:Percent>
{{- if .ExemptReason}}
          <cbc:TaxExemptionReason>{{esc .ExemptReason}}</cbc:TaxExemptionReason>
{{- end}}
          <cac:TaxScheme>
            <cbc:ID>VAT</cbc:ID>
          </cac:TaxScheme>
        </cac:TaxCategory>
      </cac:TaxSubtotal>
    </cac:TaxTotal>
  </cac:InvoiceLine>
{{- end}}
</Invoice>
`
