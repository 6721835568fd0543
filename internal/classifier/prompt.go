package classifier

import (
	"fmt"
	"strings"

	"github.com/JakeFAU/ai-policy-docs/internal/document"
)

// SystemInstruction is sent as the system prompt of every request.
const SystemInstruction = "Your task is to analyze the provided text and determine its relevance to AI, AI policy, and related topics. Provide a JSON response with 'ai_related' (0 or 1) and 'llm_summary' fields."

const instructions = `
Please analyze the following text and determine if it is related to AI, AI governance, AI policy, GPU, compute, machine learning, deep learning, neural networks, natural language processing, computer vision, robotics, artificial general intelligence, AI safety, AI alignment, AI regulation, AI ethics, bias in AI, explainable AI, responsible AI, superintelligence, AI risk, AI governance frameworks, AI policy recommendations, AI policy challenges, semiconductor fabrication, CHIPS act, or AI policy research organizations. Ignore 'AI' in the case of 'AI/AN' if it refers to 'American Indian/Alaskan Native'.

If the text is not related to any of these topics, please return a 0 for the 'ai_related' field in the JSON output. If the text is related to one or more of these topics, please return a 1 for the 'ai_related' field.

Additionally, please provide a concise summary of the content as it relates to these areas in the 'llm_summary' field of the JSON output.
Focus on the key content and avoid filler phrases like "the text appears to be" or "this suggests."
Prioritize relevance to AI policy/governance as the first or second bullet point in the summary.
Present the summary as a single string with each bullet point on a new line, preceded by an asterisk and a space.

Also include a 'tags' field in the JSON output that lists only the relevant topics, as an array of strings, from the following list: %s

Format your response as a JSON object with 'ai_related', 'llm_summary', and 'tags' fields. The response MUST CONTAIN ALL 3 FIELDS. DO NOT RETURN ANYTHING OTHER THAN A CORRECTLY FORMATTED JSON OBJECT.

Here are three examples:

Input text:
The European Union has proposed new regulations for AI systems, focusing on transparency, accountability, and human oversight. The proposed legislation aims to mitigate the risks associated with AI while fostering innovation and trust in the technology.

Example JSON output:
{
  "ai_related": 1,
  "llm_summary": "* EU proposed new AI regulations\n* Focus on transparency, accountability, and human oversight\n* Aims to mitigate AI risks and foster trust",
  "tags": ["IP & Consumer Rights", "Policy & Standards"]
}

Input text:
The National Institute of Standards and Technology (NIST) requests comments on four draft documents responsive to NIST assignment under Executive Order 14110 on Safe, Secure, and Trustworthy Development and Use of Artificial Intelligence (AI) issued on October 30, 2023 (E.O. 14110): NIST AI 600-1, Artificial Intelligence Risk Management Framework: Generative Artificial Intelligence Profile; NIST SP 800-218A, Secure Software Development Practices for Generative AI and Dual-Use Foundation Models; NIST AI 100-5, A Plan for Global Engagement on AI Standards; and NIST AI 100-4, Reducing Risks Posed by Synthetic Content: An Overview of Technical Approaches to Digital Content Transparency.

Example JSON output:
{
  "ai_related": 1,
  "llm_summary": "* NIST requests comments on draft documents under E.O. 14110 on AI policy\n* Focuses on AI risk management, secure software development, and global AI standards\n* Addresses synthetic content and technical approaches to digital content transparency",
  "tags": ["Policy & Standards", "Capabilities & Research"]
}

Input text:
The U.S. Nuclear Regulatory Commission (NRC) is requesting comment on a draft Programmatic Agreement (PA) between the NRC, Pennsylvania State Historic Preservation Office (SHPO), and TMI-2 Energy Solutions (TMI-2Solutions).

Example JSON output:
{
  "ai_related": 0,
  "llm_summary": "* The text discusses a nuclear power plant, Three Mile Island Nuclear Station Unit 2, which is permanently shut down\n* The text is not related to AI, AI governance, AI policy, or any of the other topics listed in the instructions",
  "tags": []
}

Now, please analyze the following text:
`

// BuildPrompt renders the instruction block followed by the document fields
// the model judges on.
func BuildPrompt(doc document.Document) string {
	quoted := make([]string, len(document.AllowedTags))
	for i, tag := range document.AllowedTags {
		quoted[i] = fmt.Sprintf("%q", tag)
	}

	var sb strings.Builder
	sb.WriteString("Your instructions:\n")
	sb.WriteString(fmt.Sprintf(instructions, "["+strings.Join(quoted, ",")+"]"))
	sb.WriteString("\n")
	fmt.Fprintf(&sb, "Abstract: %s\n", doc.Abstract)
	fmt.Fprintf(&sb, "Action: %s\n", doc.Action)
	fmt.Fprintf(&sb, "Agency Names: %s\n", document.JoinCollection(doc.AgencyNames))
	fmt.Fprintf(&sb, "Title: %s\n", doc.Title)
	fmt.Fprintf(&sb, "TOC Doc: %s\n", doc.TocDoc)
	fmt.Fprintf(&sb, "Type: %s\n", doc.Type)
	fmt.Fprintf(&sb, "Excerpts: %s\n", doc.Excerpts)
	return sb.String()
}
